package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
)

type Service interface {
	// AssignCredit spends the remaining amount of a credit on the open
	// invoices of its payer, oldest first. Without force, nothing happens
	// unless the regie assigns credits on creation.
	AssignCredit(ctx context.Context, creditID snowflake.ID, force bool) ([]CreditAssignment, error)
	// AssignCreditsToInvoice pays an invoice with the open credits of its payer.
	AssignCreditsToInvoice(ctx context.Context, invoiceID snowflake.ID) ([]CreditAssignment, error)
	// MakeCampaignAssignments assigns the credits of a finalized campaign to
	// existing invoices and existing credits to the campaign invoices.
	MakeCampaignAssignments(ctx context.Context, campaignID snowflake.ID, progress jobsdomain.Progress) error
	RefundCredit(ctx context.Context, creditID snowflake.ID) (Refund, error)
	ListAssignments(ctx context.Context, creditID snowflake.ID) ([]CreditAssignment, error)
	ListInvoicePayments(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
}

var (
	ErrCreditNotFound    = errors.New("credit_not_found")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrCreditCancelled   = errors.New("credit_cancelled")
	ErrNothingToRefund   = errors.New("nothing_to_refund")
	ErrCampaignNotFound  = errors.New("campaign_not_found")
	ErrRegieNotFound     = errors.New("regie_not_found")
	ErrInvoiceNotPayable = errors.New("invoice_not_payable")
)
