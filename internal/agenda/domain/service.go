package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateAgendaRequest struct {
	RegieID         snowflake.ID `json:"regie_id"`
	Slug            string       `json:"slug"`
	Label           string       `json:"label"`
	PartialBookings bool         `json:"partial_bookings"`
}

type CreatePricingRequest struct {
	Slug            string    `json:"slug"`
	Label           string    `json:"label"`
	DateStart       time.Time `json:"date_start"`
	DateEnd         time.Time `json:"date_end"`
	FlatFeeSchedule bool      `json:"flat_fee_schedule"`
	AgendaSlugs     []string  `json:"agendas"`
}

type CreateCheckTypeRequest struct {
	Slug      string        `json:"slug"`
	GroupSlug string        `json:"group_slug"`
	Kind      CheckTypeKind `json:"kind"`
	Label     string        `json:"label"`
}

type Service interface {
	CreateAgenda(ctx context.Context, req CreateAgendaRequest) (Agenda, error)
	CreatePricing(ctx context.Context, req CreatePricingRequest) (Pricing, error)
	CreateCheckType(ctx context.Context, req CreateCheckTypeRequest) (CheckType, error)

	GetBySlug(ctx context.Context, slug string) (Agenda, error)
	List(ctx context.Context, regieID snowflake.ID) ([]Agenda, error)
	CampaignAgendas(ctx context.Context, campaignID, regieID snowflake.ID, start, end time.Time) ([]Agenda, error)
	// PricingsByAgenda indexes non flat pricings overlapping [start, end) by agenda slug.
	PricingsByAgenda(ctx context.Context, start, end time.Time) (map[string][]Pricing, error)
	PricingsForAgenda(ctx context.Context, agendaID snowflake.ID, start, end time.Time) ([]Pricing, error)
	CheckTypes(ctx context.Context) (CheckTypes, error)
}

var (
	ErrNotFound      = errors.New("agenda_not_found")
	ErrInvalidSlug   = errors.New("invalid_slug")
	ErrInvalidLabel  = errors.New("invalid_label")
	ErrInvalidRegie  = errors.New("invalid_regie")
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidKind   = errors.New("invalid_check_type_kind")
	ErrDuplicateSlug = errors.New("duplicate_slug")
	ErrUnknownAgenda = errors.New("unknown_agenda")
)
