package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
)

type ListInvoiceRequest struct {
	PoolID          *snowflake.ID
	CampaignID      *snowflake.ID
	PayerExternalID string
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// PoolDocuments lists every document computed or promoted for a pool.
type PoolDocuments struct {
	DraftInvoices []DraftInvoice `json:"draft_invoices,omitempty"`
	DraftCredits  []DraftCredit  `json:"draft_credits,omitempty"`
	Invoices      []Invoice      `json:"invoices,omitempty"`
	Credits       []Credit       `json:"credits,omitempty"`
}

type CancelRequest struct {
	By     string `json:"cancelled_by"`
	Reason string `json:"reason"`
}

type Service interface {
	List(context.Context, ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	GetCredit(ctx context.Context, id snowflake.ID) (Credit, error)
	PoolDocuments(ctx context.Context, poolID snowflake.ID) (PoolDocuments, error)
	CancelInvoice(ctx context.Context, id snowflake.ID, req CancelRequest) (Invoice, error)
	CancelCredit(ctx context.Context, id snowflake.ID, req CancelRequest) (Credit, error)
}

var (
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrCreditNotFound       = errors.New("credit_not_found")
	ErrAlreadyCancelled     = errors.New("document_already_cancelled")
	ErrInvalidCancellation  = errors.New("invalid_cancellation")
	ErrCreditOverAssignment = errors.New("credit_over_assignment")
	ErrInvoiceOverPayment   = errors.New("invoice_over_payment")
	ErrDocumentNotUsable    = errors.New("document_not_usable")
)
