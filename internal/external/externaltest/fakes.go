// Package externaltest provides in-memory fakes of the external services.
package externaltest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
)

// Usage serves subscriptions by agenda and check statuses by user.
type Usage struct {
	mu            sync.Mutex
	Subscriptions map[string][]external.Subscription
	CheckStatuses map[string][]journaldomain.CheckStatusRecord
	Err           error
	LockErr       error
	Locks         int
	Unlocks       int
}

func NewUsage() *Usage {
	return &Usage{
		Subscriptions: map[string][]external.Subscription{},
		CheckStatuses: map[string][]journaldomain.CheckStatusRecord{},
	}
}

func (u *Usage) Subscribe(agenda string, subs ...external.Subscription) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Subscriptions[agenda] = append(u.Subscriptions[agenda], subs...)
}

func (u *Usage) AddCheckStatus(user string, records ...journaldomain.CheckStatusRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.CheckStatuses[user] = append(u.CheckStatuses[user], records...)
}

func (u *Usage) GetSubscriptions(_ context.Context, _ external.RequestContext, agendaSlug string, _, _ time.Time) ([]external.Subscription, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, &external.UsageServiceError{Op: "get_subscriptions", Err: u.Err}
	}
	return append([]external.Subscription(nil), u.Subscriptions[agendaSlug]...), nil
}

func (u *Usage) GetCheckStatus(_ context.Context, _ external.RequestContext, agendaSlugs []string, userExternalID string, _, _ time.Time) ([]journaldomain.CheckStatusRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, &external.UsageServiceError{Op: "get_check_status", Err: u.Err}
	}
	wanted := make(map[string]bool, len(agendaSlugs))
	for _, slug := range agendaSlugs {
		wanted[slug] = true
	}
	var out []journaldomain.CheckStatusRecord
	for _, record := range u.CheckStatuses[userExternalID] {
		if wanted[record.Event.Agenda] {
			out = append(out, record)
		}
	}
	return out, nil
}

func (u *Usage) LockEventsCheck(context.Context, external.RequestContext, []string, time.Time, time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.LockErr != nil {
		return &external.UsageServiceError{Op: "lock_events_check", Err: u.LockErr}
	}
	u.Locks++
	return nil
}

func (u *Usage) UnlockEventsCheck(context.Context, external.RequestContext, []string, time.Time, time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Unlocks++
	return nil
}

// Pricing answers with Fn, or with Prices keyed by event slug.
type Pricing struct {
	mu     sync.Mutex
	Fn     func(req external.PricingRequest) (journaldomain.PricingData, error)
	Prices map[string]decimal.Decimal
	Errors map[string]error
	Calls  []external.PricingRequest
}

func NewPricing() *Pricing {
	return &Pricing{Prices: map[string]decimal.Decimal{}, Errors: map[string]error{}}
}

func (p *Pricing) Price(eventSlug string, amount string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prices[eventSlug] = decimal.RequireFromString(amount)
}

func (p *Pricing) GetPricingDataForEvent(_ context.Context, _ external.RequestContext, req external.PricingRequest) (journaldomain.PricingData, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.Fn
	err := p.Errors[req.Event.Slug]
	amount, ok := p.Prices[req.Event.Slug]
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return journaldomain.PricingData{}, err
	}
	if !ok {
		return journaldomain.PricingData{}, external.NewPricingError(external.KindPricingError, map[string]any{"event": req.Event.Slug})
	}
	return PricingData(amount, req.CheckStatus), nil
}

// PricingData builds a successful pricing answer for a check status.
func PricingData(amount decimal.Decimal, status journaldomain.CheckStatus) journaldomain.PricingData {
	return journaldomain.PricingData{
		Pricing:        &amount,
		AccountingCode: "414",
		BookingDetails: &journaldomain.BookingDetails{
			Status:    status.Status,
			CheckType: status.CheckType,
		},
	}
}

// Payer resolves users to payers through static maps. Users without an
// entry pay for themselves.
type Payer struct {
	mu        sync.Mutex
	Payers    map[string]string
	Data      map[string]external.PayerData
	PayerErr  map[string]error
	DataErr   map[string]error
	DataCalls int
}

func NewPayer() *Payer {
	return &Payer{
		Payers:   map[string]string{},
		Data:     map[string]external.PayerData{},
		PayerErr: map[string]error{},
		DataErr:  map[string]error{},
	}
}

func (p *Payer) GetPayerExternalID(_ context.Context, _ external.RequestContext, _ regiedomain.Regie, userExternalID string, _ journaldomain.Booking) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.PayerErr[userExternalID]; err != nil {
		return "", err
	}
	if payer, ok := p.Payers[userExternalID]; ok {
		return payer, nil
	}
	return userExternalID, nil
}

func (p *Payer) GetPayerData(_ context.Context, _ external.RequestContext, _ regiedomain.Regie, payerExternalID string) (external.PayerData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DataCalls++
	if err := p.DataErr[payerExternalID]; err != nil {
		return external.PayerData{}, err
	}
	return p.Data[payerExternalID], nil
}
