package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  invoicedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  invoicedomain.Repository
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	items, err := s.repo.ListInvoices(ctx, s.db, req)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}
	invoices, pageInfo := pagination.Trim(invoices, limit, func(invoice invoicedomain.Invoice) string {
		return strconv.FormatInt(invoice.ID.Int64(), 10)
	})
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	item, err := s.repo.FindInvoice(ctx, s.db, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

func (s *Service) GetCredit(ctx context.Context, id snowflake.ID) (invoicedomain.Credit, error) {
	item, err := s.repo.FindCredit(ctx, s.db, id)
	if err != nil {
		return invoicedomain.Credit{}, err
	}
	if item == nil {
		return invoicedomain.Credit{}, invoicedomain.ErrCreditNotFound
	}
	return *item, nil
}

func (s *Service) PoolDocuments(ctx context.Context, poolID snowflake.ID) (invoicedomain.PoolDocuments, error) {
	var docs invoicedomain.PoolDocuments

	draftInvoices, err := s.repo.ListDraftInvoices(ctx, s.db, poolID)
	if err != nil {
		return docs, err
	}
	for _, item := range draftInvoices {
		docs.DraftInvoices = append(docs.DraftInvoices, *item)
	}
	draftCredits, err := s.repo.ListDraftCredits(ctx, s.db, poolID)
	if err != nil {
		return docs, err
	}
	for _, item := range draftCredits {
		docs.DraftCredits = append(docs.DraftCredits, *item)
	}
	invoices, err := s.repo.ListPoolInvoices(ctx, s.db, poolID)
	if err != nil {
		return docs, err
	}
	for _, item := range invoices {
		docs.Invoices = append(docs.Invoices, *item)
	}
	credits, err := s.repo.ListPoolCredits(ctx, s.db, poolID)
	if err != nil {
		return docs, err
	}
	for _, item := range credits {
		docs.Credits = append(docs.Credits, *item)
	}
	return docs, nil
}

func (s *Service) cancellation(req invoicedomain.CancelRequest) (invoicedomain.Cancellation, error) {
	by := strings.TrimSpace(req.By)
	if by == "" {
		return invoicedomain.Cancellation{}, invoicedomain.ErrInvalidCancellation
	}
	now := s.clock.Now()
	return invoicedomain.Cancellation{
		CancelledAt:        &now,
		CancelledBy:        by,
		CancellationReason: strings.TrimSpace(req.Reason),
	}, nil
}

func (s *Service) CancelInvoice(ctx context.Context, id snowflake.ID, req invoicedomain.CancelRequest) (invoicedomain.Invoice, error) {
	cancellation, err := s.cancellation(req)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var cancelled invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.LockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		updated, err := s.repo.CancelInvoice(ctx, tx, id, cancellation)
		if err != nil {
			return err
		}
		if !updated {
			return invoicedomain.ErrAlreadyCancelled
		}
		cancelled = *invoice
		cancelled.Cancellation = cancellation
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.log.Info("invoice cancelled",
		zap.String("invoice_id", id.String()),
		zap.String("formatted_number", cancelled.FormattedNumber),
		zap.String("cancelled_by", cancellation.CancelledBy),
	)
	return cancelled, nil
}

func (s *Service) CancelCredit(ctx context.Context, id snowflake.ID, req invoicedomain.CancelRequest) (invoicedomain.Credit, error) {
	cancellation, err := s.cancellation(req)
	if err != nil {
		return invoicedomain.Credit{}, err
	}

	var cancelled invoicedomain.Credit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credit, err := s.repo.LockCredit(ctx, tx, id)
		if err != nil {
			return err
		}
		if credit == nil {
			return invoicedomain.ErrCreditNotFound
		}
		updated, err := s.repo.CancelCredit(ctx, tx, id, cancellation)
		if err != nil {
			return err
		}
		if !updated {
			return invoicedomain.ErrAlreadyCancelled
		}
		cancelled = *credit
		cancelled.Cancellation = cancellation
		return nil
	})
	if err != nil {
		return invoicedomain.Credit{}, err
	}

	s.log.Info("credit cancelled",
		zap.String("credit_id", id.String()),
		zap.String("formatted_number", cancelled.FormattedNumber),
		zap.String("cancelled_by", cancellation.CancelledBy),
	)
	return cancelled, nil
}
