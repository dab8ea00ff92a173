package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *CreditAssignment) error
	ListAssignments(ctx context.Context, db *gorm.DB, creditID snowflake.ID) ([]*CreditAssignment, error)
	ListInvoicePayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*Payment, error)
}
