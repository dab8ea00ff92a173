// Package domain defines how final credits are consumed: payments drawn
// from a credit against an invoice, refunds, and the assignment rows
// linking them to the credit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
)

type PaymentType string

const PaymentTypeCredit PaymentType = "credit"

// Payment settles part of an invoice. Payments created by credit
// assignment carry the originating credit.
type Payment struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	RegieID         snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_payments_number,priority:1" json:"regie_id"`
	Number          int64           `gorm:"not null" json:"number"`
	FormattedNumber string          `gorm:"type:text;not null;uniqueIndex:ux_payments_number,priority:2" json:"formatted_number"`
	PaymentType     PaymentType     `gorm:"type:text;not null" json:"payment_type"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null;check:chk_payments_amount,amount > 0" json:"amount"`
	InvoiceID       snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	CreditID        *snowflake.ID   `gorm:"index" json:"credit_id,omitempty"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	journaldomain.Payer
}

func (Payment) TableName() string { return "payments" }

// Refund gives back the remaining amount of a credit.
type Refund struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	RegieID         snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_refunds_number,priority:1" json:"regie_id"`
	Number          int64           `gorm:"not null" json:"number"`
	FormattedNumber string          `gorm:"type:text;not null;uniqueIndex:ux_refunds_number,priority:2" json:"formatted_number"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null;check:chk_refunds_amount,amount > 0" json:"amount"`
	CreditID        snowflake.ID    `gorm:"not null;index" json:"credit_id"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	journaldomain.Payer
}

func (Refund) TableName() string { return "refunds" }

// CreditAssignment records amount of a credit offset against exactly one
// payment or refund.
type CreditAssignment struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	CreditID  snowflake.ID    `gorm:"not null;index" json:"credit_id"`
	InvoiceID *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	PaymentID *snowflake.ID   `gorm:"index" json:"payment_id,omitempty"`
	RefundID  *snowflake.ID   `gorm:"index;check:chk_credit_assignments_target,(payment_id IS NULL) <> (refund_id IS NULL)" json:"refund_id,omitempty"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null;check:chk_credit_assignments_amount,amount > 0" json:"amount"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (CreditAssignment) TableName() string { return "credit_assignments" }
