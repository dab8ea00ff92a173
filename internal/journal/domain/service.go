package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
)

// PoolLine is a draft or final journal line as listed for a pool.
type PoolLine struct {
	ID            snowflake.ID    `json:"id"`
	PoolID        snowflake.ID    `json:"pool_id"`
	Draft         bool            `json:"draft"`
	InvoiceLineID *snowflake.ID   `json:"invoice_line_id,omitempty"`
	CreditLineID  *snowflake.ID   `json:"credit_line_id,omitempty"`
	Total         decimal.Decimal `json:"total"`
	LineFields
}

type Service interface {
	// SetErrorStatus annotates an error line of a draft pool.
	SetErrorStatus(ctx context.Context, lineID snowflake.ID, status ErrorStatus) (DraftJournalLine, error)
	GetDraftLine(ctx context.Context, lineID snowflake.ID) (DraftJournalLine, error)
	ListPoolLines(ctx context.Context, poolID snowflake.ID, filter LineFilter, page pagination.Pagination) ([]PoolLine, pagination.PageInfo, error)
}
