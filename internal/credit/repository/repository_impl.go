package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/credit/domain"
	pkgrepo "github.com/smallbiznis/poolbilling/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return pkgrepo.ProvideStore[domain.Payment](db).Create(ctx, payment)
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return pkgrepo.ProvideStore[domain.Refund](db).Create(ctx, refund)
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *domain.CreditAssignment) error {
	return pkgrepo.ProvideStore[domain.CreditAssignment](db).Create(ctx, assignment)
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, creditID snowflake.ID) ([]*domain.CreditAssignment, error) {
	var items []*domain.CreditAssignment
	if err := db.WithContext(ctx).Where("credit_id = ?", creditID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListInvoicePayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*domain.Payment, error) {
	var items []*domain.Payment
	if err := db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
