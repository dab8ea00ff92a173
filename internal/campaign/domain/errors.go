package domain

import "errors"

var (
	ErrNotFound                = errors.New("campaign_not_found")
	ErrPoolNotFound            = errors.New("pool_not_found")
	ErrInjectedLineNotFound    = errors.New("injected_line_not_found")
	ErrInvalidRegie            = errors.New("invalid_regie")
	ErrInvalidLabel            = errors.New("invalid_label")
	ErrInvalidPeriod           = errors.New("invalid_period")
	ErrInvalidDates            = errors.New("invalid_dates")
	ErrInvalidInjectedLines    = errors.New("invalid_injected_lines_mode")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidUser             = errors.New("invalid_user")
	ErrInvalidPayer            = errors.New("invalid_payer")
	ErrUnknownAgenda           = errors.New("unknown_agenda")
	ErrPoolWrongStatus         = errors.New("pool_wrong_status")
	ErrPoolNotDraft            = errors.New("pool_not_draft")
	ErrCampaignFinalized       = errors.New("campaign_finalized")
	ErrCampaignAlreadyPromoted = errors.New("campaign_already_promoted")
	ErrCampaignNotFinalized    = errors.New("campaign_not_finalized")
	ErrGenerationInProgress    = errors.New("generation_in_progress")
	ErrPoolInitFailed          = errors.New("pool_init_failed")
)

// PromotionReason names the guard that refused a promotion.
type PromotionReason string

const (
	PromotionPoolTooOld       PromotionReason = "Pool too old"
	PromotionPoolIsFinal      PromotionReason = "Pool is final"
	PromotionPoolNotCompleted PromotionReason = "Pool is not completed"
)

// PoolPromotionError is returned when a pool cannot be promoted. No state is
// changed when it is returned.
type PoolPromotionError struct {
	Reason PromotionReason
}

func (e *PoolPromotionError) Error() string {
	return string(e.Reason)
}

func (e *PoolPromotionError) Precondition() bool { return true }

// Is matches promotion errors by reason.
func (e *PoolPromotionError) Is(target error) bool {
	t, ok := target.(*PoolPromotionError)
	return ok && t.Reason == e.Reason
}

var (
	ErrPoolTooOld       = &PoolPromotionError{Reason: PromotionPoolTooOld}
	ErrPoolIsFinal      = &PoolPromotionError{Reason: PromotionPoolIsFinal}
	ErrPoolNotCompleted = &PoolPromotionError{Reason: PromotionPoolNotCompleted}
)
