package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/poolbilling/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/pkg/db/option"
	pkgrepo "github.com/smallbiznis/poolbilling/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDraftInvoice(ctx context.Context, db *gorm.DB, invoice *domain.DraftInvoice, lines []*domain.DraftInvoiceLine) error {
	if err := db.WithContext(ctx).Create(invoice).Error; err != nil {
		return err
	}
	return pkgrepo.ProvideStore[domain.DraftInvoiceLine](db).BatchCreate(ctx, lines)
}

func (r *repo) InsertDraftCredit(ctx context.Context, db *gorm.DB, credit *domain.DraftCredit, lines []*domain.DraftCreditLine) error {
	if err := db.WithContext(ctx).Create(credit).Error; err != nil {
		return err
	}
	return pkgrepo.ProvideStore[domain.DraftCreditLine](db).BatchCreate(ctx, lines)
}

func listByPool[T any](ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*T, error) {
	var items []*T
	if err := db.WithContext(ctx).Where("pool_id = ?", poolID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDraftInvoices(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.DraftInvoice, error) {
	return listByPool[domain.DraftInvoice](ctx, db, poolID)
}

func (r *repo) ListDraftInvoiceLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.DraftInvoiceLine, error) {
	return listByPool[domain.DraftInvoiceLine](ctx, db, poolID)
}

func (r *repo) ListDraftCredits(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.DraftCredit, error) {
	return listByPool[domain.DraftCredit](ctx, db, poolID)
}

func (r *repo) ListDraftCreditLines(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.DraftCreditLine, error) {
	return listByPool[domain.DraftCreditLine](ctx, db, poolID)
}

func (r *repo) DeleteDraftDocumentsForPayers(ctx context.Context, db *gorm.DB, poolID snowflake.ID, payerIDs []string) error {
	if len(payerIDs) == 0 {
		return nil
	}
	steps := []struct {
		sql  string
		args []any
	}{
		{
			`DELETE FROM draft_invoice_lines WHERE invoice_id IN (
			   SELECT id FROM draft_invoices WHERE pool_id = ? AND payer_external_id IN ?)`,
			[]any{poolID, payerIDs},
		},
		{`DELETE FROM draft_invoices WHERE pool_id = ? AND payer_external_id IN ?`, []any{poolID, payerIDs}},
		{
			`DELETE FROM draft_credit_lines WHERE credit_id IN (
			   SELECT id FROM draft_credits WHERE pool_id = ? AND payer_external_id IN ?)`,
			[]any{poolID, payerIDs},
		},
		{`DELETE FROM draft_credits WHERE pool_id = ? AND payer_external_id IN ?`, []any{poolID, payerIDs}},
	}
	for _, step := range steps {
		if err := db.WithContext(ctx).Exec(step.sql, step.args...).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, lines []*domain.InvoiceLine) error {
	if err := db.WithContext(ctx).Create(invoice).Error; err != nil {
		return err
	}
	return pkgrepo.ProvideStore[domain.InvoiceLine](db).BatchCreate(ctx, lines)
}

func (r *repo) InsertCredit(ctx context.Context, db *gorm.DB, credit *domain.Credit, lines []*domain.CreditLine) error {
	if err := db.WithContext(ctx).Create(credit).Error; err != nil {
		return err
	}
	return pkgrepo.ProvideStore[domain.CreditLine](db).BatchCreate(ctx, lines)
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return pkgrepo.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{ID: id})
}

func (r *repo) FindCredit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Credit, error) {
	return pkgrepo.ProvideStore[domain.Credit](db).FindOne(ctx, &domain.Credit{ID: id})
}

func (r *repo) LockCredit(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Credit, error) {
	var credit domain.Credit
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM credits
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&credit).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceCredits, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if credit.ID == 0 {
		return nil, nil
	}
	return &credit, nil
}

func (r *repo) LockInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM invoices
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, req domain.ListInvoiceRequest) ([]*domain.Invoice, error) {
	filter := &domain.Invoice{PoolID: req.PoolID, CampaignID: req.CampaignID}
	filter.PayerExternalID = req.PayerExternalID
	return pkgrepo.ProvideStore[domain.Invoice](db).Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(req.Pagination),
	)
}

func (r *repo) ListPoolInvoices(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.Invoice, error) {
	return listByPool[domain.Invoice](ctx, db, poolID)
}

func (r *repo) ListPoolCredits(ctx context.Context, db *gorm.DB, poolID snowflake.ID) ([]*domain.Credit, error) {
	return listByPool[domain.Credit](ctx, db, poolID)
}

func (r *repo) ListInvoiceLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*domain.InvoiceLine, error) {
	var lines []*domain.InvoiceLine
	if err := db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListCreditLines(ctx context.Context, db *gorm.DB, creditID snowflake.ID) ([]*domain.CreditLine, error) {
	var lines []*domain.CreditLine
	if err := db.WithContext(ctx).Where("credit_id = ?", creditID).Order("id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) AssignCredit(ctx context.Context, db *gorm.DB, creditID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credits
		 SET assigned_amount = assigned_amount + ?,
		     remaining_amount = remaining_amount - ?,
		     updated_at = ?
		 WHERE id = ?
		   AND cancelled_at IS NULL
		   AND remaining_amount >= ?`,
		amount, amount, now, creditID, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) PayInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET paid_amount = paid_amount + ?,
		     remaining_amount = remaining_amount - ?,
		     updated_at = ?
		 WHERE id = ?
		   AND cancelled_at IS NULL
		   AND remaining_amount >= ?`,
		amount, amount, now, invoiceID, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func cancelDocument(ctx context.Context, db *gorm.DB, table string, id snowflake.ID, cancellation domain.Cancellation) (bool, error) {
	result := db.WithContext(ctx).Table(table).
		Where("id = ? AND cancelled_at IS NULL", id).
		Updates(map[string]any{
			"cancelled_at":        cancellation.CancelledAt,
			"cancelled_by":        cancellation.CancelledBy,
			"cancellation_reason": cancellation.CancellationReason,
			"updated_at":          cancellation.CancelledAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CancelInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, cancellation domain.Cancellation) (bool, error) {
	return cancelDocument(ctx, db, "invoices", id, cancellation)
}

func (r *repo) CancelCredit(ctx context.Context, db *gorm.DB, id snowflake.ID, cancellation domain.Cancellation) (bool, error) {
	return cancelDocument(ctx, db, "credits", id, cancellation)
}

const finalizedCampaignClause = `(campaign_id IS NULL OR campaign_id IN (SELECT id FROM campaigns WHERE finalized = ?))`

func (r *repo) ListAssignableCredits(ctx context.Context, db *gorm.DB, regieID snowflake.ID, payerExternalID string) ([]*domain.Credit, error) {
	var credits []*domain.Credit
	err := db.WithContext(ctx).
		Where("regie_id = ? AND payer_external_id = ?", regieID, payerExternalID).
		Where("usable = ? AND cancelled_at IS NULL AND remaining_amount > 0", true).
		Where(finalizedCampaignClause, true).
		Order("id asc").
		Find(&credits).Error
	if err != nil {
		return nil, err
	}
	return credits, nil
}

func (r *repo) ListPayableInvoices(ctx context.Context, db *gorm.DB, regieID snowflake.ID, payerExternalID string, today time.Time) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("regie_id = ? AND payer_external_id = ?", regieID, payerExternalID).
		Where("date_due >= ? AND cancelled_at IS NULL AND remaining_amount > 0", today).
		Where(finalizedCampaignClause, true).
		Order("id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListCampaignOpenInvoices(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, today time.Time) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("campaign_id = ? AND date_due >= ? AND cancelled_at IS NULL AND remaining_amount > 0", campaignID, today).
		Order("id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListCampaignOpenCredits(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*domain.Credit, error) {
	var credits []*domain.Credit
	err := db.WithContext(ctx).
		Where("campaign_id = ? AND cancelled_at IS NULL AND remaining_amount > 0", campaignID).
		Order("id asc").
		Find(&credits).Error
	if err != nil {
		return nil, err
	}
	return credits, nil
}
