package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gslug "github.com/gosimple/slug"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	"github.com/smallbiznis/poolbilling/internal/external"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Billing    *config.BillingConfigHolder
	Repo       domain.Repository
	AgendaRepo agendadomain.Repository
	RegieRepo  regiedomain.Repository
	Jobs       jobsdomain.Service
	Usage      external.UsageService
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	repo       domain.Repository
	agendaRepo agendadomain.Repository
	regieRepo  regiedomain.Repository
	jobs       jobsdomain.Service
	usage      external.UsageService
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("campaign.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		repo:       p.Repo,
		agendaRepo: p.AgendaRepo,
		regieRepo:  p.RegieRepo,
		jobs:       p.Jobs,
		usage:      p.Usage,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	if req.RegieID == 0 {
		return domain.Campaign{}, domain.ErrInvalidRegie
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.Campaign{}, domain.ErrInvalidLabel
	}
	start, end := day(req.DateStart), day(req.DateEnd)
	if start.IsZero() || !end.After(start) {
		return domain.Campaign{}, domain.ErrInvalidPeriod
	}
	if req.DatePublication.IsZero() || req.DatePaymentDeadline.IsZero() || req.DateDue.IsZero() {
		return domain.Campaign{}, domain.ErrInvalidDates
	}
	mode := req.InjectedLines
	if mode == "" {
		mode = domain.InjectedLinesNo
	}
	if !mode.Valid() {
		return domain.Campaign{}, domain.ErrInvalidInjectedLines
	}

	regie, err := s.regieRepo.FindByID(ctx, s.db, req.RegieID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if regie == nil {
		return domain.Campaign{}, domain.ErrInvalidRegie
	}
	agendas, err := s.agendaRepo.ListAgendasBySlugs(ctx, s.db, req.AgendaSlugs)
	if err != nil {
		return domain.Campaign{}, err
	}
	if len(agendas) != len(uniqueStrings(req.AgendaSlugs)) {
		return domain.Campaign{}, domain.ErrUnknownAgenda
	}

	now := s.clock.Now()
	campaign := domain.Campaign{
		ID:                  s.genID.Generate(),
		RegieID:             regie.ID,
		Label:               label,
		DateStart:           start,
		DateEnd:             end,
		DatePublication:     day(req.DatePublication),
		DatePaymentDeadline: day(req.DatePaymentDeadline),
		DateDue:             day(req.DateDue),
		InjectedLines:       mode,
		AdjustmentCampaign:  req.AdjustmentCampaign,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.DateDebit != nil {
		debit := day(*req.DateDebit)
		campaign.DateDebit = &debit
	}
	for _, agenda := range agendas {
		if agenda.RegieID != regie.ID {
			return domain.Campaign{}, domain.ErrUnknownAgenda
		}
		campaign.Agendas = append(campaign.Agendas, *agenda)
	}
	if err := s.repo.Insert(ctx, s.db, &campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Campaign, error) {
	campaign, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return *campaign, nil
}

func (s *Service) List(ctx context.Context, regieID snowflake.ID) ([]domain.Campaign, error) {
	items, err := s.repo.List(ctx, s.db, regieID)
	if err != nil {
		return nil, err
	}
	campaigns := make([]domain.Campaign, 0, len(items))
	for _, item := range items {
		campaigns = append(campaigns, *item)
	}
	return campaigns, nil
}

func (s *Service) GetPool(ctx context.Context, id snowflake.ID) (domain.Pool, error) {
	pool, err := s.repo.FindPool(ctx, s.db, id)
	if err != nil {
		return domain.Pool{}, err
	}
	if pool == nil {
		return domain.Pool{}, domain.ErrPoolNotFound
	}
	return *pool, nil
}

func (s *Service) ListPools(ctx context.Context, campaignID snowflake.ID) ([]domain.Pool, error) {
	items, err := s.repo.ListPools(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	pools := make([]domain.Pool, 0, len(items))
	for _, item := range items {
		pools = append(pools, *item)
	}
	return pools, nil
}

func (s *Service) LatestPool(ctx context.Context, campaignID snowflake.ID) (*domain.Pool, error) {
	return s.repo.LatestDraftPool(ctx, s.db, campaignID)
}

func (s *Service) Generate(ctx context.Context, campaignID snowflake.ID) (domain.Pool, jobsdomain.CampaignJob, error) {
	campaign, err := s.Get(ctx, campaignID)
	if err != nil {
		return domain.Pool{}, jobsdomain.CampaignJob{}, err
	}
	if campaign.Finalized {
		return domain.Pool{}, jobsdomain.CampaignJob{}, domain.ErrCampaignFinalized
	}
	final, err := s.repo.FinalPool(ctx, s.db, campaign.ID)
	if err != nil {
		return domain.Pool{}, jobsdomain.CampaignJob{}, err
	}
	if final != nil {
		return domain.Pool{}, jobsdomain.CampaignJob{}, domain.ErrCampaignAlreadyPromoted
	}
	latest, err := s.repo.LatestDraftPool(ctx, s.db, campaign.ID)
	if err != nil {
		return domain.Pool{}, jobsdomain.CampaignJob{}, err
	}
	if latest != nil && inProgress(latest.Status) {
		return domain.Pool{}, jobsdomain.CampaignJob{}, domain.ErrGenerationInProgress
	}

	now := s.clock.Now()
	pool := domain.Pool{
		ID:         s.genID.Generate(),
		CampaignID: campaign.ID,
		Draft:      true,
		Status:     domain.PoolStatusRegistered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertPool(ctx, s.db, &pool); err != nil {
		return domain.Pool{}, jobsdomain.CampaignJob{}, err
	}

	log := logger.WithPool(logger.WithContext(ctx, s.log), int64(campaign.ID), int64(pool.ID))
	if err := s.initPool(ctx, campaign); err != nil {
		log.Warn("pool init failed", zap.Error(err))
		completedAt := s.clock.Now()
		if _, markErr := s.repo.TransitionPool(ctx, s.db, pool.ID,
			[]domain.PoolStatus{domain.PoolStatusRegistered},
			domain.PoolStatusFailed,
			map[string]any{"exception": err.Error(), "completed_at": completedAt, "updated_at": completedAt},
		); markErr != nil {
			return pool, jobsdomain.CampaignJob{}, errors.Join(err, markErr)
		}
		pool.Status = domain.PoolStatusFailed
		pool.Exception = err.Error()
		pool.CompletedAt = &completedAt
		return pool, jobsdomain.CampaignJob{}, fmt.Errorf("%w: %v", domain.ErrPoolInitFailed, err)
	}

	job, err := s.jobs.CreateCampaignJob(ctx, nil, campaign.ID, jobsdomain.Generate{DraftPoolID: pool.ID})
	if err != nil {
		return pool, jobsdomain.CampaignJob{}, err
	}
	log.Info("draft pool registered", zap.String("job_id", job.ID.String()))
	return pool, job, nil
}

// initPool locks the check statuses of the campaign agendas on the usage
// side. The agendas are unlocked again when locking fails.
func (s *Service) initPool(ctx context.Context, campaign domain.Campaign) error {
	agendas, err := s.agendaRepo.ListCampaignAgendas(ctx, s.db, campaign.ID, campaign.RegieID, campaign.DateStart, campaign.DateEnd)
	if err != nil {
		return err
	}
	slugs := make([]string, 0, len(agendas))
	for _, agenda := range agendas {
		slugs = append(slugs, agenda.Slug)
	}
	if len(slugs) == 0 {
		return nil
	}
	rc := external.NewRequestContext(s.billing.Get().Requests)
	if err := s.usage.LockEventsCheck(ctx, rc, slugs, campaign.DateStart, campaign.LastDay()); err != nil {
		if unlockErr := s.usage.UnlockEventsCheck(ctx, rc, slugs, campaign.DateStart, campaign.LastDay()); unlockErr != nil {
			s.log.Warn("unlock after failed lock", zap.Error(unlockErr))
		}
		return err
	}
	return nil
}

func (s *Service) MarkAsFinalized(ctx context.Context, campaignID snowflake.ID) (jobsdomain.CampaignJob, error) {
	var job jobsdomain.CampaignJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := s.repo.FindByID(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign == nil {
			return domain.ErrNotFound
		}
		final, err := s.repo.FinalPool(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if final == nil || final.Status != domain.PoolStatusCompleted {
			return domain.ErrPoolWrongStatus
		}
		changed, err := s.repo.SetFinalized(ctx, tx, campaignID, s.clock.Now())
		if err != nil {
			return err
		}
		if !changed {
			return domain.ErrCampaignFinalized
		}
		job, err = s.jobs.CreateCampaignJob(ctx, tx, campaignID, jobsdomain.AssignCredits{})
		return err
	})
	if err != nil {
		return jobsdomain.CampaignJob{}, err
	}
	s.log.Info("campaign finalized",
		zap.String("campaign_id", campaignID.String()),
		zap.String("job_id", job.ID.String()),
	)
	return job, nil
}

func (s *Service) CreateInjectedLine(ctx context.Context, req domain.CreateInjectedLineRequest) (domain.InjectedLine, error) {
	if req.RegieID == 0 {
		return domain.InjectedLine{}, domain.ErrInvalidRegie
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.InjectedLine{}, domain.ErrInvalidLabel
	}
	if req.EventDate.IsZero() {
		return domain.InjectedLine{}, domain.ErrInvalidDates
	}
	if req.Amount.IsZero() {
		return domain.InjectedLine{}, domain.ErrInvalidAmount
	}
	user := strings.TrimSpace(req.UserExternalID)
	if user == "" {
		return domain.InjectedLine{}, domain.ErrInvalidUser
	}
	payer := strings.TrimSpace(req.PayerExternalID)
	if payer == "" {
		return domain.InjectedLine{}, domain.ErrInvalidPayer
	}
	slug := gslug.Make(strings.TrimSpace(req.Slug))
	if slug == "" {
		slug = gslug.Make(label)
	}

	line := domain.InjectedLine{
		ID:               s.genID.Generate(),
		RegieID:          req.RegieID,
		EventDate:        day(req.EventDate),
		Slug:             slug,
		Label:            label,
		Amount:           req.Amount.Round(2),
		UserExternalID:   user,
		PayerExternalID:  payer,
		PayerFirstName:   strings.TrimSpace(req.PayerFirstName),
		PayerLastName:    strings.TrimSpace(req.PayerLastName),
		PayerAddress:     strings.TrimSpace(req.PayerAddress),
		PayerDirectDebit: req.PayerDirectDebit,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertInjectedLine(ctx, s.db, &line); err != nil {
		return domain.InjectedLine{}, err
	}
	return line, nil
}

func (s *Service) MarkPoolRunning(ctx context.Context, tx *gorm.DB, poolID snowflake.ID) (bool, error) {
	return s.repo.TransitionPool(ctx, s.conn(tx), poolID,
		[]domain.PoolStatus{domain.PoolStatusRegistered, domain.PoolStatusWaiting},
		domain.PoolStatusRunning,
		map[string]any{"updated_at": s.clock.Now()},
	)
}

func (s *Service) MarkPoolCompleted(ctx context.Context, tx *gorm.DB, poolID snowflake.ID) (bool, error) {
	now := s.clock.Now()
	return s.repo.TransitionPool(ctx, s.conn(tx), poolID,
		[]domain.PoolStatus{domain.PoolStatusRunning, domain.PoolStatusWaiting},
		domain.PoolStatusCompleted,
		map[string]any{"completed_at": now, "updated_at": now},
	)
}

func (s *Service) MarkPoolFailed(ctx context.Context, tx *gorm.DB, poolID snowflake.ID, exception string) (bool, error) {
	now := s.clock.Now()
	return s.repo.TransitionPool(ctx, s.conn(tx), poolID,
		[]domain.PoolStatus{domain.PoolStatusRegistered, domain.PoolStatusRunning, domain.PoolStatusWaiting},
		domain.PoolStatusFailed,
		map[string]any{"exception": exception, "completed_at": now, "updated_at": now},
	)
}

func (s *Service) IsPoolRunning(ctx context.Context, poolID snowflake.ID) (bool, error) {
	pool, err := s.repo.FindPool(ctx, s.db, poolID)
	if err != nil {
		return false, err
	}
	if pool == nil {
		return false, domain.ErrPoolNotFound
	}
	return pool.Status == domain.PoolStatusRunning, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func inProgress(status domain.PoolStatus) bool {
	switch status {
	case domain.PoolStatusRegistered, domain.PoolStatusRunning, domain.PoolStatusWaiting:
		return true
	}
	return false
}

func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
