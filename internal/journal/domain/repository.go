package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	"gorm.io/gorm"
)

// LineFilter narrows a pool line listing. Empty fields match everything.
type LineFilter struct {
	Status          Status `form:"status"`
	UserExternalID  string `form:"user_external_id"`
	PayerExternalID string `form:"payer_external_id"`
}

type Repository interface {
	InsertDraftLines(ctx context.Context, db *gorm.DB, lines []*DraftJournalLine) error
	FindDraftLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DraftJournalLine, error)
	ListDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID, filter LineFilter, page pagination.Pagination) ([]*DraftJournalLine, error)
	// ListDraftLinesForPayers lists the lines of a pool in id order, all
	// payers when payerIDs is nil.
	ListDraftLinesForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) ([]*DraftJournalLine, error)
	ListAllDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*DraftJournalLine, error)
	CountDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) (int, error)
	// ResolvedErrors maps slug to error status for the annotated error lines
	// of a user in a pool.
	ResolvedErrors(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string) (map[string]ErrorStatus, error)
	UpdateErrorStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status ErrorStatus, now time.Time) error
	// DeleteDraftLinesForEvent removes the lines of one user event and
	// returns the payers they were billed to.
	DeleteDraftLinesForEvent(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string, eventDate time.Time, slug string) ([]string, error)
	// DeleteDraftLinesForUser clears the lines of a user on a pool so that
	// building them again does not duplicate them.
	DeleteDraftLinesForUser(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string) error
	LinkDraftInvoiceLine(ctx context.Context, db *gorm.DB, lineIDs []snowflake.ID, invoiceLineID snowflake.ID) error
	LinkDraftCreditLine(ctx context.Context, db *gorm.DB, lineIDs []snowflake.ID, creditLineID snowflake.ID) error
	UnlinkDraftLinesForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) error

	InsertLines(ctx context.Context, db *gorm.DB, lines []*JournalLine) error
	ListLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID, filter LineFilter, page pagination.Pagination) ([]*JournalLine, error)
	ListAllLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*JournalLine, error)
}
