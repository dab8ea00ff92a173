package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/pkg/db/option"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	pkgrepo "github.com/smallbiznis/poolbilling/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func filterOptions(filter domain.LineFilter, page pagination.Pagination) []option.QueryOption {
	opts := []option.QueryOption{}
	if filter.Status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Value: filter.Status}))
	}
	if filter.UserExternalID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "user_external_id", Value: filter.UserExternalID}))
	}
	if filter.PayerExternalID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "payer_external_id", Value: filter.PayerExternalID}))
	}
	return append(opts,
		option.WithSortBy(option.WithQuerySortBy("", "", nil)),
		option.ApplyPagination(page),
	)
}

func (r *repo) InsertDraftLines(ctx context.Context, db *gorm.DB, lines []*domain.DraftJournalLine) error {
	return pkgrepo.ProvideStore[domain.DraftJournalLine](db).BatchCreate(ctx, lines)
}

func (r *repo) FindDraftLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DraftJournalLine, error) {
	var line domain.DraftJournalLine
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&line).Error
	if err != nil {
		return nil, err
	}
	if line.ID == 0 {
		return nil, nil
	}
	return &line, nil
}

func (r *repo) ListDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID, filter domain.LineFilter, page pagination.Pagination) ([]*domain.DraftJournalLine, error) {
	return pkgrepo.ProvideStore[domain.DraftJournalLine](db).Find(ctx,
		&domain.DraftJournalLine{PoolID: poolID},
		filterOptions(filter, page)...,
	)
}

func (r *repo) ListDraftLinesForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) ([]*domain.DraftJournalLine, error) {
	query := db.WithContext(ctx).Where("pool_id = ?", poolID)
	if payerIDs != nil {
		if len(payerIDs) == 0 {
			return nil, nil
		}
		query = query.Where("payer_external_id IN ?", payerIDs)
	}
	var lines []*domain.DraftJournalLine
	if err := query.Order("id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListAllDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.DraftJournalLine, error) {
	return r.ListDraftLinesForPayers(ctx, db, poolID, nil)
}

func (r *repo) CountDraftLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) (int, error) {
	count, err := pkgrepo.ProvideStore[domain.DraftJournalLine](db).Count(ctx, &domain.DraftJournalLine{PoolID: poolID})
	return int(count), err
}

func (r *repo) ResolvedErrors(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string) (map[string]domain.ErrorStatus, error) {
	var rows []struct {
		Slug        string
		ErrorStatus domain.ErrorStatus
	}
	err := db.WithContext(ctx).
		Model(&domain.DraftJournalLine{}).
		Select("slug, error_status").
		Where("pool_id = ? AND status = ? AND user_external_id = ? AND error_status <> ''",
			poolID, domain.StatusError, userExternalID).
		Order("id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]domain.ErrorStatus, len(rows))
	for _, row := range rows {
		resolved[row.Slug] = row.ErrorStatus
	}
	return resolved, nil
}

func (r *repo) UpdateErrorStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.ErrorStatus, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.DraftJournalLine{}).
		Where("id = ?", id).
		Updates(map[string]any{"error_status": status, "updated_at": now}).Error
}

func (r *repo) DeleteDraftLinesForEvent(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string, eventDate time.Time, slug string) ([]string, error) {
	query := db.WithContext(ctx).Model(&domain.DraftJournalLine{}).
		Where("pool_id = ? AND user_external_id = ? AND event_date = ? AND slug = ?", poolID, userExternalID, eventDate, slug)

	var payers []string
	if err := query.Distinct("payer_external_id").Pluck("payer_external_id", &payers).Error; err != nil {
		return nil, err
	}
	err := db.WithContext(ctx).
		Where("pool_id = ? AND user_external_id = ? AND event_date = ? AND slug = ?", poolID, userExternalID, eventDate, slug).
		Delete(&domain.DraftJournalLine{}).Error
	if err != nil {
		return nil, err
	}
	return payers, nil
}

func (r *repo) DeleteDraftLinesForUser(ctx context.Context, db *gorm.DB, poolID snowflake.ID, userExternalID string) error {
	return db.WithContext(ctx).
		Where("pool_id = ? AND user_external_id = ?", poolID, userExternalID).
		Delete(&domain.DraftJournalLine{}).Error
}

func (r *repo) LinkDraftInvoiceLine(ctx context.Context, db *gorm.DB, lineIDs []snowflake.ID, invoiceLineID snowflake.ID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.DraftJournalLine{}).
		Where("id IN ?", lineIDs).
		Update("invoice_line_id", invoiceLineID).Error
}

func (r *repo) LinkDraftCreditLine(ctx context.Context, db *gorm.DB, lineIDs []snowflake.ID, creditLineID snowflake.ID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.DraftJournalLine{}).
		Where("id IN ?", lineIDs).
		Update("credit_line_id", creditLineID).Error
}

func (r *repo) UnlinkDraftLinesForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) error {
	if len(payerIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.DraftJournalLine{}).
		Where("pool_id = ? AND payer_external_id IN ?", poolID, payerIDs).
		Updates(map[string]any{"invoice_line_id": nil, "credit_line_id": nil}).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []*domain.JournalLine) error {
	return pkgrepo.ProvideStore[domain.JournalLine](db).BatchCreate(ctx, lines)
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID, filter domain.LineFilter, page pagination.Pagination) ([]*domain.JournalLine, error) {
	return pkgrepo.ProvideStore[domain.JournalLine](db).Find(ctx,
		&domain.JournalLine{PoolID: poolID},
		filterOptions(filter, page)...,
	)
}

func (r *repo) ListAllLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.JournalLine, error) {
	var lines []*domain.JournalLine
	if err := db.WithContext(ctx).Where("pool_id = ?", poolID).Order("id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
