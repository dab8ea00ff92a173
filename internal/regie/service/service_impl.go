package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gslug "github.com/gosimple/slug"
	"github.com/smallbiznis/poolbilling/internal/clock"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/regie/domain"
	"github.com/smallbiznis/poolbilling/internal/regie/format"
	"github.com/smallbiznis/poolbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("regie.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func ProvideService(s *Service) domain.Service { return s }

func ProvideCounterService(s *Service) domain.CounterService { return s }

func (s *Service) Create(ctx context.Context, req domain.CreateRegieRequest) (domain.Regie, error) {
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.Regie{}, domain.ErrInvalidLabel
	}
	slug := gslug.Make(strings.TrimSpace(req.Slug))
	if slug == "" {
		slug = gslug.Make(label)
	}
	if slug == "" {
		return domain.Regie{}, domain.ErrInvalidSlug
	}
	if req.ShortID < 0 {
		return domain.Regie{}, domain.ErrInvalidShortID
	}

	regie := domain.Regie{
		ShortID:                 req.ShortID,
		Slug:                    slug,
		Label:                   label,
		CounterName:             strings.TrimSpace(req.CounterName),
		InvoiceNumberFormat:     strings.TrimSpace(req.InvoiceNumberFormat),
		CreditNumberFormat:      strings.TrimSpace(req.CreditNumberFormat),
		PaymentNumberFormat:     strings.TrimSpace(req.PaymentNumberFormat),
		RefundNumberFormat:      strings.TrimSpace(req.RefundNumberFormat),
		AssignCreditsOnCreation: true,
	}
	if req.AssignCreditsOnCreation != nil {
		regie.AssignCreditsOnCreation = *req.AssignCreditsOnCreation
	}
	if regie.CounterName == "" {
		regie.CounterName = format.DefaultCounterName
	}
	if _, err := format.CounterName(regie.CounterName, s.clock.Now()); err != nil {
		return domain.Regie{}, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	for _, kind := range []domain.CounterKind{domain.CounterKindInvoice, domain.CounterKindCredit, domain.CounterKindPayment, domain.CounterKindRefund} {
		if err := format.Validate(regie.NumberFormat(kind)); err != nil {
			return domain.Regie{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidFormat, kind, err)
		}
	}
	regie.InvoiceNumberFormat = regie.NumberFormat(domain.CounterKindInvoice)
	regie.CreditNumberFormat = regie.NumberFormat(domain.CounterKindCredit)
	regie.PaymentNumberFormat = regie.NumberFormat(domain.CounterKindPayment)
	regie.RefundNumberFormat = regie.NumberFormat(domain.CounterKindRefund)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if regie.ShortID == 0 {
			max, err := s.repo.MaxShortID(ctx, tx)
			if err != nil {
				return err
			}
			regie.ShortID = max + 1
		}
		now := s.clock.Now()
		regie.ID = s.genID.Generate()
		regie.CreatedAt = now
		regie.UpdatedAt = now
		return s.repo.Insert(ctx, tx, &regie)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Regie{}, domain.ErrDuplicateRegie
		}
		return domain.Regie{}, err
	}

	s.log.Info("regie created", zap.String("regie_id", regie.ID.String()), zap.String("slug", regie.Slug))
	return regie, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Regie, error) {
	regie, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Regie{}, err
	}
	if regie == nil {
		return domain.Regie{}, domain.ErrNotFound
	}
	return *regie, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Regie, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	regies := make([]domain.Regie, 0, len(items))
	for _, item := range items {
		regies = append(regies, *item)
	}
	return regies, nil
}

func (s *Service) Counters(ctx context.Context, regieID snowflake.ID) ([]domain.Counter, error) {
	items, err := s.repo.ListCounters(ctx, s.db, regieID)
	if err != nil {
		return nil, err
	}
	counters := make([]domain.Counter, 0, len(items))
	for _, item := range items {
		counters = append(counters, *item)
	}
	return counters, nil
}

// Next allocates the next value of the regie counter for kind, scoped by the
// counter name rendered at at.
func (s *Service) Next(ctx context.Context, tx *gorm.DB, regie domain.Regie, kind domain.CounterKind, at time.Time) (int64, error) {
	if tx == nil {
		return 0, domain.ErrMissingTransaction
	}
	if !kind.Valid() {
		return 0, domain.ErrInvalidCounterKind
	}
	name, err := format.CounterName(regie.CounterName, at)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}

	start := time.Now()
	value, err := s.repo.IncrementCounter(ctx, tx, s.genID.Generate(), regie.ID, kind, name, s.clock.Now())
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceCounters, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("increment counter %s/%s: %w", kind, name, err)
	}
	return value, nil
}

func (s *Service) NextNumber(ctx context.Context, tx *gorm.DB, regie domain.Regie, kind domain.CounterKind, at time.Time) (domain.DocumentNumber, error) {
	value, err := s.Next(ctx, tx, regie, kind, at)
	if err != nil {
		return domain.DocumentNumber{}, err
	}
	formatted, err := format.FormatNumber(regie.NumberFormat(kind), at, regie.ShortID, value)
	if err != nil {
		return domain.DocumentNumber{}, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	return domain.DocumentNumber{Number: value, Formatted: formatted}, nil
}
