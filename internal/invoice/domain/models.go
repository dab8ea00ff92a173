// Package domain contains the billing documents of a pool: draft invoices
// and credits computed by aggregation, and their final numbered copies.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"gorm.io/datatypes"
)

type Origin string

const (
	OriginCampaign Origin = "campaign"
	OriginManual   Origin = "manual"
)

// DocumentFields are shared by every invoice and credit variant.
type DocumentFields struct {
	Label               string          `gorm:"type:text;not null;default:''" json:"label"`
	DatePublication     time.Time       `gorm:"type:date;not null" json:"date_publication"`
	DatePaymentDeadline time.Time       `gorm:"type:date;not null" json:"date_payment_deadline"`
	DateDue             time.Time       `gorm:"type:date;not null" json:"date_due"`
	DateDebit           *time.Time      `gorm:"type:date" json:"date_debit,omitempty"`
	Origin              Origin          `gorm:"type:text;not null;default:'campaign'" json:"origin"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_amount"`
	CreatedAt           time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	journaldomain.Payer
}

// Cancellation marks a final document as cancelled.
type Cancellation struct {
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `gorm:"type:text;not null;default:''" json:"cancelled_by,omitempty"`
	CancellationReason string     `gorm:"type:text;not null;default:''" json:"cancellation_reason,omitempty"`
}

func (c Cancellation) Cancelled() bool { return c.CancelledAt != nil }

// LineFields are shared by every invoice and credit line variant.
type LineFields struct {
	EventDate      time.Time                       `gorm:"type:date;not null" json:"event_date"`
	Label          string                          `gorm:"type:text;not null;default:''" json:"label"`
	Description    string                          `gorm:"type:text;not null;default:''" json:"description"`
	Quantity       decimal.Decimal                 `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitAmount     decimal.Decimal                 `gorm:"type:numeric(12,2);not null" json:"unit_amount"`
	TotalAmount    decimal.Decimal                 `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	AccountingCode string                          `gorm:"type:text;not null;default:''" json:"accounting_code"`
	Details        datatypes.JSONType[LineDetails] `gorm:"type:jsonb" json:"details"`
	EventSlug      string                          `gorm:"type:text;not null;default:''" json:"event_slug"`
	EventLabel     string                          `gorm:"type:text;not null;default:''" json:"event_label"`
	AgendaSlug     string                          `gorm:"type:text;not null;default:''" json:"agenda_slug"`
	ActivityLabel  string                          `gorm:"type:text;not null;default:''" json:"activity_label"`
	CreatedAt      time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	journaldomain.User
}

// ComputeTotal derives TotalAmount from quantity and unit amount.
func (l *LineFields) ComputeTotal() {
	l.TotalAmount = l.Quantity.Mul(l.UnitAmount).Round(2)
}

// SumLines is the document total of a set of lines.
func SumLines(lines []LineFields) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.TotalAmount)
	}
	return total
}

type DraftInvoice struct {
	ID      snowflake.ID `gorm:"primaryKey" json:"id"`
	PoolID  snowflake.ID `gorm:"not null;index" json:"pool_id"`
	RegieID snowflake.ID `gorm:"not null;index" json:"regie_id"`
	DocumentFields
}

func (DraftInvoice) TableName() string { return "draft_invoices" }

type DraftInvoiceLine struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	PoolID    snowflake.ID `gorm:"not null;index" json:"pool_id"`
	InvoiceID snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	LineFields
}

func (DraftInvoiceLine) TableName() string { return "draft_invoice_lines" }

// DraftCredit holds the lines of a payer whose net total is negative. Its
// lines carry negated quantities so that TotalAmount is positive.
type DraftCredit struct {
	ID      snowflake.ID `gorm:"primaryKey" json:"id"`
	PoolID  snowflake.ID `gorm:"not null;index" json:"pool_id"`
	RegieID snowflake.ID `gorm:"not null;index" json:"regie_id"`
	DocumentFields
}

func (DraftCredit) TableName() string { return "draft_credits" }

type DraftCreditLine struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	PoolID   snowflake.ID `gorm:"not null;index" json:"pool_id"`
	CreditID snowflake.ID `gorm:"not null;index" json:"credit_id"`
	LineFields
}

func (DraftCreditLine) TableName() string { return "draft_credit_lines" }

// Invoice is a final, numbered invoice. PaidAmount grows with payments and
// never exceeds TotalAmount.
type Invoice struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	PoolID          *snowflake.ID   `gorm:"index" json:"pool_id,omitempty"`
	CampaignID      *snowflake.ID   `gorm:"index" json:"campaign_id,omitempty"`
	RegieID         snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_invoices_number,priority:1" json:"regie_id"`
	Number          int64           `gorm:"not null" json:"number"`
	FormattedNumber string          `gorm:"type:text;not null;uniqueIndex:ux_invoices_number,priority:2" json:"formatted_number"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0;check:chk_invoices_paid,paid_amount >= 0 AND paid_amount <= total_amount" json:"paid_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"remaining_amount"`
	DocumentFields
	Cancellation
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceLine struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	PoolID    *snowflake.ID `gorm:"index" json:"pool_id,omitempty"`
	InvoiceID snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	LineFields
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

// Credit is a final, numbered credit note. AssignedAmount tracks how much of
// it has been used; the bound is enforced on write and by a CHECK constraint.
type Credit struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	PoolID          *snowflake.ID   `gorm:"index" json:"pool_id,omitempty"`
	CampaignID      *snowflake.ID   `gorm:"index" json:"campaign_id,omitempty"`
	RegieID         snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_credits_number,priority:1" json:"regie_id"`
	Number          int64           `gorm:"not null" json:"number"`
	FormattedNumber string          `gorm:"type:text;not null;uniqueIndex:ux_credits_number,priority:2" json:"formatted_number"`
	AssignedAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0;check:chk_credits_assigned,(total_amount > 0 AND assigned_amount >= 0 AND assigned_amount <= total_amount) OR (total_amount < 0 AND assigned_amount <= 0 AND assigned_amount >= total_amount) OR (total_amount = 0 AND assigned_amount = 0)" json:"assigned_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"remaining_amount"`
	Usable          bool            `gorm:"not null" json:"usable"`
	DocumentFields
	Cancellation
}

func (Credit) TableName() string { return "credits" }

// CanAssign reports whether amount fits in the credit bound.
func (c Credit) CanAssign(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return c.AssignedAmount.Add(amount).LessThanOrEqual(c.TotalAmount)
}

type CreditLine struct {
	ID       snowflake.ID  `gorm:"primaryKey" json:"id"`
	PoolID   *snowflake.ID `gorm:"index" json:"pool_id,omitempty"`
	CreditID snowflake.ID  `gorm:"not null;index" json:"credit_id"`
	LineFields
}

func (CreditLine) TableName() string { return "credit_lines" }
