package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAgenda(ctx context.Context, db *gorm.DB, agenda *domain.Agenda) error {
	return db.WithContext(ctx).Create(agenda).Error
}

func (r *repo) InsertPricing(ctx context.Context, db *gorm.DB, pricing *domain.Pricing) error {
	// agendas already exist, only the join rows are written
	return db.WithContext(ctx).Omit("Agendas.*").Create(pricing).Error
}

func (r *repo) InsertCheckType(ctx context.Context, db *gorm.DB, checkType *domain.CheckType) error {
	return db.WithContext(ctx).Create(checkType).Error
}

func (r *repo) FindAgendaBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Agenda, error) {
	var agenda domain.Agenda
	err := db.WithContext(ctx).Where("slug = ?", slug).Limit(1).Find(&agenda).Error
	if err != nil {
		return nil, err
	}
	if agenda.ID == 0 {
		return nil, nil
	}
	return &agenda, nil
}

func (r *repo) ListAgendasBySlugs(ctx context.Context, db *gorm.DB, slugs []string) ([]*domain.Agenda, error) {
	var agendas []*domain.Agenda
	if len(slugs) == 0 {
		return agendas, nil
	}
	err := db.WithContext(ctx).Where("slug IN ?", slugs).Order("id asc").Find(&agendas).Error
	if err != nil {
		return nil, err
	}
	return agendas, nil
}

func (r *repo) ListAgendas(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*domain.Agenda, error) {
	var agendas []*domain.Agenda
	stmt := db.WithContext(ctx).Model(&domain.Agenda{})
	if regieID != 0 {
		stmt = stmt.Where("regie_id = ?", regieID)
	}
	if err := stmt.Order("id asc").Find(&agendas).Error; err != nil {
		return nil, err
	}
	return agendas, nil
}

func (r *repo) ListCampaignAgendas(ctx context.Context, db *gorm.DB, campaignID, regieID snowflake.ID, start, end time.Time) ([]*domain.Agenda, error) {
	var agendas []*domain.Agenda
	err := db.WithContext(ctx).Raw(
		`SELECT a.id, a.regie_id, a.slug, a.label, a.partial_bookings, a.created_at, a.updated_at
		 FROM agendas a
		 WHERE a.regie_id = ?
		   AND a.id IN (SELECT ca.agenda_id FROM campaign_agendas ca WHERE ca.campaign_id = ?)
		   AND a.id IN (
		     SELECT pa.agenda_id
		     FROM pricing_agendas pa
		     JOIN pricings p ON p.id = pa.pricing_id
		     WHERE p.flat_fee_schedule = ? AND p.date_start < ? AND p.date_end > ?
		   )
		 ORDER BY a.id`,
		regieID, campaignID, false, end, start,
	).Scan(&agendas).Error
	if err != nil {
		return nil, err
	}
	return agendas, nil
}

func (r *repo) ListPricings(ctx context.Context, db *gorm.DB, start, end time.Time, agendaID *snowflake.ID) ([]*domain.Pricing, error) {
	var pricings []*domain.Pricing
	stmt := db.WithContext(ctx).
		Model(&domain.Pricing{}).
		Preload("Agendas").
		Where("flat_fee_schedule = ?", false).
		Where("date_start < ? AND date_end > ?", end, start)
	if agendaID != nil {
		stmt = stmt.Where("id IN (SELECT pricing_id FROM pricing_agendas WHERE agenda_id = ?)", *agendaID)
	}
	if err := stmt.Order("date_start asc, id asc").Find(&pricings).Error; err != nil {
		return nil, err
	}
	return pricings, nil
}

func (r *repo) ListCheckTypes(ctx context.Context, db *gorm.DB) ([]*domain.CheckType, error) {
	var items []*domain.CheckType
	if err := db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
