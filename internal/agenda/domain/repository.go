package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAgenda(ctx context.Context, db *gorm.DB, agenda *Agenda) error
	InsertPricing(ctx context.Context, db *gorm.DB, pricing *Pricing) error
	InsertCheckType(ctx context.Context, db *gorm.DB, checkType *CheckType) error

	FindAgendaBySlug(ctx context.Context, db *gorm.DB, slug string) (*Agenda, error)
	ListAgendasBySlugs(ctx context.Context, db *gorm.DB, slugs []string) ([]*Agenda, error)
	ListAgendas(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*Agenda, error)

	// ListCampaignAgendas returns the agendas of the campaign belonging to the
	// regie that have a non flat pricing overlapping [start, end).
	ListCampaignAgendas(ctx context.Context, db *gorm.DB, campaignID, regieID snowflake.ID, start, end time.Time) ([]*Agenda, error)
	// ListPricings returns non flat pricings overlapping [start, end), with their agendas.
	ListPricings(ctx context.Context, db *gorm.DB, start, end time.Time, agendaID *snowflake.ID) ([]*Pricing, error)
	ListCheckTypes(ctx context.Context, db *gorm.DB) ([]*CheckType, error)
}
