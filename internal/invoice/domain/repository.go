package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	InsertDraftInvoice(ctx context.Context, db *gorm.DB, invoice *DraftInvoice, lines []*DraftInvoiceLine) error
	InsertDraftCredit(ctx context.Context, db *gorm.DB, credit *DraftCredit, lines []*DraftCreditLine) error
	ListDraftInvoices(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*DraftInvoice, error)
	ListDraftInvoiceLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*DraftInvoiceLine, error)
	ListDraftCredits(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*DraftCredit, error)
	ListDraftCreditLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*DraftCreditLine, error)
	// DeleteDraftDocumentsForPayers drops the draft invoices and credits of
	// the payers together with their lines.
	DeleteDraftDocumentsForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) error

	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice, lines []*InvoiceLine) error
	InsertCredit(ctx context.Context, db *gorm.DB, credit *Credit, lines []*CreditLine) error
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindCredit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Credit, error)
	LockCredit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Credit, error)
	LockInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB, req ListInvoiceRequest) ([]*Invoice, error)
	ListPoolInvoices(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*Invoice, error)
	ListPoolCredits(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*Credit, error)
	ListInvoiceLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*InvoiceLine, error)
	ListCreditLines(ctx context.Context, db *gorm.DB, creditID snowflake.ID) ([]*CreditLine, error)

	// AssignCredit moves amount from the remaining to the assigned part of a
	// credit. It reports false when the credit cannot absorb amount.
	AssignCredit(ctx context.Context, db *gorm.DB, creditID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error)
	// PayInvoice records amount as paid. It reports false when the invoice
	// remaining amount is lower than amount.
	PayInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error)
	CancelInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, cancellation Cancellation) (bool, error)
	CancelCredit(ctx context.Context, db *gorm.DB, id snowflake.ID, cancellation Cancellation) (bool, error)

	// ListAssignableCredits lists open credits of a payer, excluding credits
	// of campaigns that are not finalized, oldest first.
	ListAssignableCredits(ctx context.Context, db *gorm.DB, regieID snowflake.ID, payerExternalID string) ([]*Credit, error)
	// ListPayableInvoices lists open invoices of a payer due on or after
	// today, excluding invoices of campaigns that are not finalized.
	ListPayableInvoices(ctx context.Context, db *gorm.DB, regieID snowflake.ID, payerExternalID string, today time.Time) ([]*Invoice, error)
	ListCampaignOpenInvoices(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, today time.Time) ([]*Invoice, error)
	ListCampaignOpenCredits(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*Credit, error)
}
