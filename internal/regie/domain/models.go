package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/regie/format"
)

// Regie is the billing authority owning campaigns, counters and documents.
type Regie struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	ShortID                 int          `gorm:"not null;uniqueIndex:ux_regies_short_id" json:"short_id"`
	Slug                    string       `gorm:"type:text;not null;uniqueIndex:ux_regies_slug" json:"slug"`
	Label                   string       `gorm:"type:text;not null" json:"label"`
	CounterName             string       `gorm:"type:text;not null;default:'{YY}'" json:"counter_name"`
	InvoiceNumberFormat     string       `gorm:"type:text;not null" json:"invoice_number_format"`
	CreditNumberFormat      string       `gorm:"type:text;not null" json:"credit_number_format"`
	PaymentNumberFormat     string       `gorm:"type:text;not null" json:"payment_number_format"`
	RefundNumberFormat      string       `gorm:"type:text;not null" json:"refund_number_format"`
	AssignCreditsOnCreation bool         `gorm:"not null" json:"assign_credits_on_creation"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Regie) TableName() string { return "regies" }

// NumberFormat returns the template used to render numbers of the given kind.
func (r Regie) NumberFormat(kind CounterKind) string {
	var tpl, def string
	switch kind {
	case CounterKindInvoice:
		tpl, def = r.InvoiceNumberFormat, format.DefaultInvoiceFormat
	case CounterKindCredit:
		tpl, def = r.CreditNumberFormat, format.DefaultCreditFormat
	case CounterKindPayment:
		tpl, def = r.PaymentNumberFormat, format.DefaultPaymentFormat
	case CounterKindRefund:
		tpl, def = r.RefundNumberFormat, format.DefaultRefundFormat
	}
	if tpl == "" {
		return def
	}
	return tpl
}

type CounterKind string

const (
	CounterKindInvoice CounterKind = "invoice"
	CounterKindCredit  CounterKind = "credit"
	CounterKindPayment CounterKind = "payment"
	CounterKindRefund  CounterKind = "refund"
)

func (k CounterKind) Valid() bool {
	switch k {
	case CounterKindInvoice, CounterKindCredit, CounterKindPayment, CounterKindRefund:
		return true
	}
	return false
}

// Counter holds the last allocated value for a (regie, kind, period) scope.
// Values only grow.
type Counter struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	RegieID   snowflake.ID `gorm:"not null;uniqueIndex:ux_regie_counters_scope"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_regie_counters_scope"`
	Kind      CounterKind  `gorm:"type:text;not null;uniqueIndex:ux_regie_counters_scope"`
	Value     int64        `gorm:"not null;default:0;check:chk_regie_counters_value,value >= 0"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Counter) TableName() string { return "regie_counters" }

// DocumentNumber is an allocated sequence value and its rendering.
type DocumentNumber struct {
	Number    int64
	Formatted string
}
