package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Omit("Agendas.*").Create(campaign).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := db.WithContext(ctx).
		Preload("Agendas").
		Where("id = ?", id).
		Limit(1).
		Find(&campaign).Error
	if err != nil {
		return nil, err
	}
	if campaign.ID == 0 {
		return nil, nil
	}
	return &campaign, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*domain.Campaign, error) {
	var campaigns []*domain.Campaign
	stmt := db.WithContext(ctx).Model(&domain.Campaign{})
	if regieID != 0 {
		stmt = stmt.Where("regie_id = ?", regieID)
	}
	if err := stmt.Order("date_start desc, id desc").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *repo) SetFinalized(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ? AND finalized = ?", id, false).
		Updates(map[string]any{"finalized": true, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPool(ctx context.Context, db *gorm.DB, pool *domain.Pool) error {
	return db.WithContext(ctx).Create(pool).Error
}

func (r *repo) FindPool(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Pool, error) {
	return findPool(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) ListPools(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*domain.Pool, error) {
	var pools []*domain.Pool
	err := db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id desc").
		Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (r *repo) LatestDraftPool(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (*domain.Pool, error) {
	return findPool(db.WithContext(ctx).
		Where("campaign_id = ? AND draft = ?", campaignID, true).
		Order("id desc"))
}

func (r *repo) PreviousDraftPool(ctx context.Context, db *gorm.DB, campaignID, poolID snowflake.ID) (*domain.Pool, error) {
	return findPool(db.WithContext(ctx).
		Where("campaign_id = ? AND draft = ? AND id < ?", campaignID, true, poolID).
		Order("id desc"))
}

func (r *repo) FinalPool(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (*domain.Pool, error) {
	return findPool(db.WithContext(ctx).
		Where("campaign_id = ? AND draft = ?", campaignID, false))
}

func findPool(stmt *gorm.DB) (*domain.Pool, error) {
	var pool domain.Pool
	if err := stmt.Limit(1).Find(&pool).Error; err != nil {
		return nil, err
	}
	if pool.ID == 0 {
		return nil, nil
	}
	return &pool, nil
}

func (r *repo) TransitionPool(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.PoolStatus, to domain.PoolStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	res := db.WithContext(ctx).
		Model(&domain.Pool{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertInjectedLine(ctx context.Context, db *gorm.DB, line *domain.InjectedLine) error {
	return db.WithContext(ctx).Create(line).Error
}

func (r *repo) FindInjectedLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.InjectedLine, error) {
	var line domain.InjectedLine
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&line).Error; err != nil {
		return nil, err
	}
	if line.ID == 0 {
		return nil, nil
	}
	return &line, nil
}

// ListBillableInjectedLines skips lines already carried by a final journal
// line, and lines held by a draft pool of another campaign.
func (r *repo) ListBillableInjectedLines(ctx context.Context, db *gorm.DB, q domain.BillableQuery) ([]*domain.InjectedLine, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.InjectedLine{}).
		Where("regie_id = ? AND user_external_id = ?", q.RegieID, q.UserExternalID)
	if q.PeriodStart != nil {
		stmt = stmt.Where("event_date >= ?", *q.PeriodStart)
	}
	if q.PeriodEnd != nil {
		stmt = stmt.Where("event_date < ?", *q.PeriodEnd)
	}
	stmt = stmt.
		Where("NOT EXISTS (SELECT 1 FROM journal_lines jl WHERE jl.from_injected_line_id = injected_lines.id)").
		Where(`NOT EXISTS (
			SELECT 1 FROM draft_journal_lines djl
			JOIN pools p ON p.id = djl.pool_id
			WHERE djl.from_injected_line_id = injected_lines.id AND p.campaign_id <> ?
		)`, q.CampaignID)

	var lines []*domain.InjectedLine
	if err := stmt.Order("event_date asc, id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
