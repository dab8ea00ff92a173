package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateRegieRequest struct {
	ShortID                 int    `json:"short_id"`
	Slug                    string `json:"slug"`
	Label                   string `json:"label"`
	CounterName             string `json:"counter_name"`
	InvoiceNumberFormat     string `json:"invoice_number_format"`
	CreditNumberFormat      string `json:"credit_number_format"`
	PaymentNumberFormat     string `json:"payment_number_format"`
	RefundNumberFormat      string `json:"refund_number_format"`
	AssignCreditsOnCreation *bool  `json:"assign_credits_on_creation"`
}

type Service interface {
	Create(ctx context.Context, req CreateRegieRequest) (Regie, error)
	Get(ctx context.Context, id snowflake.ID) (Regie, error)
	List(ctx context.Context) ([]Regie, error)
	Counters(ctx context.Context, regieID snowflake.ID) ([]Counter, error)
}

// CounterService allocates document numbers. Both methods must run inside
// the caller's transaction so that a rollback releases the number.
type CounterService interface {
	Next(ctx context.Context, tx *gorm.DB, regie Regie, kind CounterKind, at time.Time) (int64, error)
	NextNumber(ctx context.Context, tx *gorm.DB, regie Regie, kind CounterKind, at time.Time) (DocumentNumber, error)
}

var (
	ErrNotFound           = errors.New("regie_not_found")
	ErrInvalidLabel       = errors.New("invalid_label")
	ErrInvalidSlug        = errors.New("invalid_slug")
	ErrInvalidShortID     = errors.New("invalid_short_id")
	ErrInvalidFormat      = errors.New("invalid_number_format")
	ErrInvalidCounterKind = errors.New("invalid_counter_kind")
	ErrDuplicateRegie     = errors.New("duplicate_regie")
	ErrMissingTransaction = errors.New("missing_transaction")
)
