// Package domain defines journal lines, the priced usage facts of a pool.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

type ErrorStatus string

const (
	ErrorStatusNone    ErrorStatus = ""
	ErrorStatusIgnored ErrorStatus = "ignored"
	ErrorStatusFixed   ErrorStatus = "fixed"
)

func (s ErrorStatus) Valid() bool {
	switch s {
	case ErrorStatusNone, ErrorStatusIgnored, ErrorStatusFixed:
		return true
	}
	return false
}

type QuantityType string

const (
	QuantityUnits   QuantityType = "units"
	QuantityMinutes QuantityType = "minutes"
)

// Pricing markers stored in Description and replaced at aggregation.
const (
	DescriptionBookedHours = "@booked-hours@"
	DescriptionOvertaking  = "@overtaking@"
)

// Payer is the payer snapshot copied on lines and documents.
type Payer struct {
	PayerExternalID  string `gorm:"type:text;not null;index" json:"payer_external_id"`
	PayerFirstName   string `gorm:"type:text;not null;default:''" json:"payer_first_name"`
	PayerLastName    string `gorm:"type:text;not null;default:''" json:"payer_last_name"`
	PayerAddress     string `gorm:"type:text;not null;default:''" json:"payer_address"`
	PayerEmail       string `gorm:"type:text;not null;default:''" json:"payer_email"`
	PayerPhone       string `gorm:"type:text;not null;default:''" json:"payer_phone"`
	PayerDirectDebit bool   `gorm:"not null;default:false" json:"payer_direct_debit"`
}

// User is the user snapshot copied on lines.
type User struct {
	UserExternalID string `gorm:"type:text;not null;index" json:"user_external_id"`
	UserFirstName  string `gorm:"type:text;not null;default:''" json:"user_first_name"`
	UserLastName   string `gorm:"type:text;not null;default:''" json:"user_last_name"`
}

// LineFields are shared by draft and final journal lines. Amount is the
// unit amount; the line total is Amount x Quantity, per hour for minutes.
type LineFields struct {
	EventDate          time.Time                       `gorm:"type:date;not null" json:"event_date"`
	Slug               string                          `gorm:"type:text;not null;index" json:"slug"`
	Label              string                          `gorm:"type:text;not null;default:''" json:"label"`
	Description        string                          `gorm:"type:text;not null;default:''" json:"description"`
	Amount             decimal.Decimal                 `gorm:"type:numeric(12,2);not null" json:"amount"`
	Quantity           int64                           `gorm:"not null;default:1" json:"quantity"`
	QuantityType       QuantityType                    `gorm:"type:text;not null;default:'units';check:quantity_type IN ('units','minutes')" json:"quantity_type"`
	AccountingCode     string                          `gorm:"type:text;not null;default:''" json:"accounting_code"`
	Event              datatypes.JSONType[Event]       `gorm:"type:jsonb" json:"event"`
	Booking            datatypes.JSONType[Booking]     `gorm:"type:jsonb" json:"booking"`
	PricingData        datatypes.JSONType[PricingData] `gorm:"type:jsonb" json:"pricing_data"`
	Status             Status                          `gorm:"type:text;not null;check:status IN ('success','warning','error')" json:"status"`
	ErrorStatus        ErrorStatus                     `gorm:"type:text;not null;default:'';check:error_status = '' OR (status = 'error' AND error_status IN ('ignored','fixed'))" json:"error_status"`
	FromInjectedLineID *snowflake.ID                   `gorm:"index" json:"from_injected_line_id,omitempty"`
	CreatedAt          time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	User
	Payer
}

// Total is the signed line total.
func (l LineFields) Total() decimal.Decimal {
	total := l.Amount.Mul(decimal.NewFromInt(l.Quantity))
	if l.QuantityType == QuantityMinutes {
		total = total.Div(decimal.NewFromInt(60))
	}
	return total
}

// DraftJournalLine belongs to a draft pool and links to the draft document
// line it was aggregated into, if any.
type DraftJournalLine struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	PoolID        snowflake.ID  `gorm:"not null;index" json:"pool_id"`
	InvoiceLineID *snowflake.ID `gorm:"index" json:"invoice_line_id,omitempty"`
	CreditLineID  *snowflake.ID `gorm:"index" json:"credit_line_id,omitempty"`
	LineFields
}

func (DraftJournalLine) TableName() string { return "draft_journal_lines" }

// Orphan reports whether the line was not aggregated into any document.
func (l DraftJournalLine) Orphan() bool {
	return l.InvoiceLineID == nil && l.CreditLineID == nil
}

// JournalLine is the immutable copy of a draft line in the final pool.
type JournalLine struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	PoolID        snowflake.ID  `gorm:"not null;index" json:"pool_id"`
	InvoiceLineID *snowflake.ID `gorm:"index" json:"invoice_line_id,omitempty"`
	CreditLineID  *snowflake.ID `gorm:"index" json:"credit_line_id,omitempty"`
	LineFields
}

func (JournalLine) TableName() string { return "journal_lines" }

func (l JournalLine) Orphan() bool {
	return l.InvoiceLineID == nil && l.CreditLineID == nil
}
