// Package external declares the collaborators of the billing pipeline: the
// usage (check status) service, the pricing service and the payer service.
package external

import (
	"context"
	"time"

	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"github.com/smallbiznis/poolbilling/internal/config"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
)

// RequestContext is handed explicitly to every service call of a run.
type RequestContext struct {
	Timeout    time.Duration
	MaxRetries int
}

// Subscription is a user subscribed to an agenda over a period.
type Subscription struct {
	UserExternalID string `json:"user_external_id"`
	UserFirstName  string `json:"user_first_name"`
	UserLastName   string `json:"user_last_name"`
	DateStart      string `json:"date_start"`
	DateEnd        string `json:"date_end"`
}

type UsageService interface {
	GetSubscriptions(ctx context.Context, rc RequestContext, agendaSlug string, start, end time.Time) ([]Subscription, error)
	GetCheckStatus(ctx context.Context, rc RequestContext, agendaSlugs []string, userExternalID string, start, end time.Time) ([]journaldomain.CheckStatusRecord, error)
	LockEventsCheck(ctx context.Context, rc RequestContext, agendaSlugs []string, start, end time.Time) error
	UnlockEventsCheck(ctx context.Context, rc RequestContext, agendaSlugs []string, start, end time.Time) error
}

type PricingRequest struct {
	Pricing         agendadomain.Pricing
	Agenda          agendadomain.Agenda
	Event           journaldomain.Event
	CheckStatus     journaldomain.CheckStatus
	UserExternalID  string
	PayerExternalID string
}

type PricingService interface {
	GetPricingDataForEvent(ctx context.Context, rc RequestContext, req PricingRequest) (journaldomain.PricingData, error)
}

// PayerData is the payer identity copied on lines and documents.
type PayerData struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address     string `json:"address"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DirectDebit bool   `json:"direct_debit"`
}

type PayerService interface {
	GetPayerExternalID(ctx context.Context, rc RequestContext, regie regiedomain.Regie, userExternalID string, booking journaldomain.Booking) (string, error)
	GetPayerData(ctx context.Context, rc RequestContext, regie regiedomain.Regie, payerExternalID string) (PayerData, error)
}

// NewRequestContext builds the request context of one run from the billing
// configuration.
func NewRequestContext(cfg config.RequestConfig) RequestContext {
	return RequestContext{Timeout: cfg.Timeout, MaxRetries: cfg.MaxRetries}
}
