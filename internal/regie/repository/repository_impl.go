package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/regie/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, regie *domain.Regie) error {
	return db.WithContext(ctx).Create(regie).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Regie, error) {
	var regie domain.Regie
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&regie).Error
	if err != nil {
		return nil, err
	}
	if regie.ID == 0 {
		return nil, nil
	}
	return &regie, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Regie, error) {
	var regie domain.Regie
	err := db.WithContext(ctx).Where("slug = ?", slug).Limit(1).Find(&regie).Error
	if err != nil {
		return nil, err
	}
	if regie.ID == 0 {
		return nil, nil
	}
	return &regie, nil
}

func (r *repo) MaxShortID(ctx context.Context, db *gorm.DB) (int, error) {
	var max int
	err := db.WithContext(ctx).
		Raw(`SELECT COALESCE(MAX(short_id), 0) FROM regies`).
		Scan(&max).Error
	return max, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]*domain.Regie, error) {
	var regies []*domain.Regie
	if err := db.WithContext(ctx).Order("short_id asc").Find(&regies).Error; err != nil {
		return nil, err
	}
	return regies, nil
}

func (r *repo) IncrementCounter(ctx context.Context, db *gorm.DB, id snowflake.ID, regieID snowflake.ID, kind domain.CounterKind, name string, now time.Time) (int64, error) {
	counter := domain.Counter{
		ID:        id,
		RegieID:   regieID,
		Name:      name,
		Kind:      kind,
		Value:     1,
		UpdatedAt: now,
	}
	// Single statement increment: the conflicting row stays locked until
	// the enclosing transaction ends.
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "regie_id"}, {Name: "name"}, {Name: "kind"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("regie_counters.value + 1"),
			"updated_at": now,
		}),
	}).Create(&counter).Error
	if err != nil {
		return 0, err
	}

	var value int64
	err = db.WithContext(ctx).Raw(
		`SELECT value FROM regie_counters WHERE regie_id = ? AND name = ? AND kind = ?`,
		regieID, name, kind,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (r *repo) ListCounters(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*domain.Counter, error) {
	var counters []*domain.Counter
	err := db.WithContext(ctx).
		Where("regie_id = ?", regieID).
		Order("kind asc, name asc").
		Find(&counters).Error
	if err != nil {
		return nil, err
	}
	return counters, nil
}
