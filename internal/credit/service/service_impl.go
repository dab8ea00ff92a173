package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Metrics   *metrics.Metrics `optional:"true"`
	Repo      domain.Repository
	Invoices  invoicedomain.Repository
	Campaigns campaigndomain.Repository
	RegieRepo regiedomain.Repository
	Counters  regiedomain.CounterService
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	metrics   *metrics.Metrics
	repo      domain.Repository
	invoices  invoicedomain.Repository
	campaigns campaigndomain.Repository
	regieRepo regiedomain.Repository
	counters  regiedomain.CounterService
}

func New(p Params) domain.Service {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("credit.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		metrics:   m,
		repo:      p.Repo,
		invoices:  p.Invoices,
		campaigns: p.Campaigns,
		regieRepo: p.RegieRepo,
		counters:  p.Counters,
	}
}

// errCreditExhausted stops an assignment loop once the credit has nothing left.
var errCreditExhausted = errors.New("credit_exhausted")

func (s *Service) AssignCredit(ctx context.Context, creditID snowflake.ID, force bool) ([]domain.CreditAssignment, error) {
	credit, err := s.invoices.FindCredit(ctx, s.db, creditID)
	if err != nil {
		return nil, err
	}
	if credit == nil {
		return nil, domain.ErrCreditNotFound
	}
	if credit.Cancelled() {
		return nil, domain.ErrCreditCancelled
	}
	if !credit.Usable || !credit.RemainingAmount.IsPositive() {
		return nil, nil
	}
	if !force {
		regie, err := s.regie(ctx, s.db, credit.RegieID)
		if err != nil {
			return nil, err
		}
		if !regie.AssignCreditsOnCreation {
			return nil, nil
		}
	}

	today := day(s.clock.Now())
	invoices, err := s.invoices.ListPayableInvoices(ctx, s.db, credit.RegieID, credit.PayerExternalID, today)
	if err != nil {
		return nil, err
	}

	var out []domain.CreditAssignment
	for _, invoice := range invoices {
		assignment, err := s.assign(ctx, credit.ID, invoice.ID)
		if errors.Is(err, errCreditExhausted) {
			break
		}
		if errors.Is(err, invoicedomain.ErrInvoiceOverPayment) {
			continue
		}
		if err != nil {
			return out, err
		}
		if assignment != nil {
			out = append(out, *assignment)
		}
	}
	return out, nil
}

func (s *Service) AssignCreditsToInvoice(ctx context.Context, invoiceID snowflake.ID) ([]domain.CreditAssignment, error) {
	invoice, err := s.invoices.FindInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if invoice.Cancelled() {
		return nil, domain.ErrInvoiceNotPayable
	}
	finalized, err := s.campaignFinalized(ctx, invoice.CampaignID)
	if err != nil {
		return nil, err
	}
	if !finalized || !invoice.RemainingAmount.IsPositive() {
		return nil, nil
	}

	credits, err := s.invoices.ListAssignableCredits(ctx, s.db, invoice.RegieID, invoice.PayerExternalID)
	if err != nil {
		return nil, err
	}
	var out []domain.CreditAssignment
	for _, credit := range credits {
		assignment, err := s.assign(ctx, credit.ID, invoice.ID)
		if errors.Is(err, errCreditExhausted) {
			continue
		}
		if errors.Is(err, invoicedomain.ErrInvoiceOverPayment) {
			break
		}
		if err != nil {
			return out, err
		}
		if assignment == nil {
			break
		}
		out = append(out, *assignment)
	}
	return out, nil
}

func (s *Service) MakeCampaignAssignments(ctx context.Context, campaignID snowflake.ID, progress jobsdomain.Progress) error {
	if progress == nil {
		progress = jobsdomain.NopProgress{}
	}
	campaign, err := s.campaigns.FindByID(ctx, s.db, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return domain.ErrCampaignNotFound
	}
	if !campaign.Finalized {
		return campaigndomain.ErrCampaignNotFinalized
	}
	log := logger.WithContext(ctx, s.log).With(zap.Int64("campaign_id", campaignID.Int64()))

	credits, err := s.invoices.ListCampaignOpenCredits(ctx, s.db, campaignID)
	if err != nil {
		return err
	}
	invoices, err := s.invoices.ListCampaignOpenInvoices(ctx, s.db, campaignID, day(s.clock.Now()))
	if err != nil {
		return err
	}
	if err := progress.SetTotal(ctx, len(credits)+len(invoices)); err != nil {
		return err
	}

	assigned := 0
	for _, credit := range credits {
		items, err := s.AssignCredit(ctx, credit.ID, true)
		if err != nil {
			return err
		}
		assigned += len(items)
		if err := progress.Increment(ctx, 1); err != nil {
			return err
		}
	}
	for _, invoice := range invoices {
		items, err := s.AssignCreditsToInvoice(ctx, invoice.ID)
		if err != nil {
			return err
		}
		assigned += len(items)
		if err := progress.Increment(ctx, 1); err != nil {
			return err
		}
	}
	log.Info("campaign credits assigned",
		zap.Int("credits", len(credits)),
		zap.Int("invoices", len(invoices)),
		zap.Int("assignments", assigned),
	)
	return nil
}

// assign moves min(credit remaining, invoice remaining) from the credit to
// the invoice through a numbered payment. Both rows are read again under
// lock; the conditional updates reject any amount that no longer fits.
// A nil assignment means the invoice is already settled.
func (s *Service) assign(ctx context.Context, creditID, invoiceID snowflake.ID) (*domain.CreditAssignment, error) {
	var out *domain.CreditAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credit, err := s.invoices.LockCredit(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if credit == nil || credit.Cancelled() || !credit.RemainingAmount.IsPositive() {
			return errCreditExhausted
		}
		invoice, err := s.invoices.LockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil || invoice.Cancelled() || !invoice.RemainingAmount.IsPositive() {
			return nil
		}

		amount := decimal.Min(credit.RemainingAmount, invoice.RemainingAmount)
		now := s.clock.Now()
		ok, err := s.invoices.AssignCredit(ctx, tx, credit.ID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			// consumed by a concurrent assignment since the read
			return errCreditExhausted
		}
		ok, err = s.invoices.PayInvoice(ctx, tx, invoice.ID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrInvoiceOverPayment
		}

		regie, err := s.regie(ctx, tx, credit.RegieID)
		if err != nil {
			return err
		}
		number, err := s.counters.NextNumber(ctx, tx, regie, regiedomain.CounterKindPayment, now)
		if err != nil {
			return err
		}
		payment := &domain.Payment{
			ID:              s.genID.Generate(),
			RegieID:         regie.ID,
			Number:          number.Number,
			FormattedNumber: number.Formatted,
			PaymentType:     domain.PaymentTypeCredit,
			Amount:          amount,
			InvoiceID:       invoice.ID,
			CreditID:        &credit.ID,
			CreatedAt:       now,
			Payer:           invoice.Payer,
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		assignment := &domain.CreditAssignment{
			ID:        s.genID.Generate(),
			CreditID:  credit.ID,
			InvoiceID: &invoice.ID,
			PaymentID: &payment.ID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := s.repo.InsertAssignment(ctx, tx, assignment); err != nil {
			return err
		}
		out = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.metrics.RecordCreditAssignment(ctx, "invoice", out.Amount.Shift(2).IntPart())
	}
	return out, nil
}

func (s *Service) RefundCredit(ctx context.Context, creditID snowflake.ID) (domain.Refund, error) {
	var refund domain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credit, err := s.invoices.LockCredit(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if credit == nil {
			return domain.ErrCreditNotFound
		}
		if credit.Cancelled() {
			return domain.ErrCreditCancelled
		}
		amount := credit.RemainingAmount
		if !amount.IsPositive() {
			return domain.ErrNothingToRefund
		}

		now := s.clock.Now()
		ok, err := s.invoices.AssignCredit(ctx, tx, credit.ID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrCreditOverAssignment
		}
		regie, err := s.regie(ctx, tx, credit.RegieID)
		if err != nil {
			return err
		}
		number, err := s.counters.NextNumber(ctx, tx, regie, regiedomain.CounterKindRefund, now)
		if err != nil {
			return err
		}
		refund = domain.Refund{
			ID:              s.genID.Generate(),
			RegieID:         regie.ID,
			Number:          number.Number,
			FormattedNumber: number.Formatted,
			Amount:          amount,
			CreditID:        credit.ID,
			CreatedAt:       now,
			Payer:           credit.Payer,
		}
		if err := s.repo.InsertRefund(ctx, tx, &refund); err != nil {
			return err
		}
		return s.repo.InsertAssignment(ctx, tx, &domain.CreditAssignment{
			ID:        s.genID.Generate(),
			CreditID:  credit.ID,
			RefundID:  &refund.ID,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}
	s.metrics.RecordCreditAssignment(ctx, "refund", refund.Amount.Shift(2).IntPart())
	return refund, nil
}

func (s *Service) ListAssignments(ctx context.Context, creditID snowflake.ID) ([]domain.CreditAssignment, error) {
	items, err := s.repo.ListAssignments(ctx, s.db, creditID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CreditAssignment, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) ListInvoicePayments(ctx context.Context, invoiceID snowflake.ID) ([]domain.Payment, error) {
	items, err := s.repo.ListInvoicePayments(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) campaignFinalized(ctx context.Context, campaignID *snowflake.ID) (bool, error) {
	if campaignID == nil {
		return true, nil
	}
	campaign, err := s.campaigns.FindByID(ctx, s.db, *campaignID)
	if err != nil {
		return false, err
	}
	return campaign != nil && campaign.Finalized, nil
}

func (s *Service) regie(ctx context.Context, db *gorm.DB, id snowflake.ID) (regiedomain.Regie, error) {
	regie, err := s.regieRepo.FindByID(ctx, db, id)
	if err != nil {
		return regiedomain.Regie{}, err
	}
	if regie == nil {
		return regiedomain.Regie{}, domain.ErrRegieNotFound
	}
	return *regie, nil
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
