// Package runner executes campaign and pool jobs. Each run moves the job
// from registered or waiting to running, dispatches on the typed action and
// records the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/config"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	"github.com/smallbiznis/poolbilling/internal/external"
	"github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/linebuilder"
	obscontext "github.com/smallbiznis/poolbilling/internal/observability/context"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	"github.com/smallbiznis/poolbilling/internal/promotion"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Billing    *config.BillingConfigHolder
	Jobs       domain.Service
	Campaigns  campaigndomain.Service
	Builder    *linebuilder.Builder
	Aggregator *aggregator.Aggregator
	Promoter   *promotion.Promoter
	Credits    creditdomain.Service
}

type Runner struct {
	db         *gorm.DB
	log        *zap.Logger
	billing    *config.BillingConfigHolder
	jobs       domain.Service
	campaigns  campaigndomain.Service
	builder    *linebuilder.Builder
	aggregator *aggregator.Aggregator
	promoter   *promotion.Promoter
	credits    creditdomain.Service
}

func New(p Params) *Runner {
	return &Runner{
		db:         p.DB,
		log:        p.Log.Named("jobs.runner"),
		billing:    p.Billing,
		jobs:       p.Jobs,
		campaigns:  p.Campaigns,
		builder:    p.Builder,
		aggregator: p.Aggregator,
		promoter:   p.Promoter,
		credits:    p.Credits,
	}
}

// Result describes one run. Ran is false when the job was not runnable,
// for instance because another runner started it first. Err holds the
// failure recorded on the job, if any.
type Result struct {
	Ran    bool
	Status domain.Status
	Err    error
}

// RunCampaignJob runs the campaign job id. The returned error is reserved
// for failures to read or update the job itself.
func (r *Runner) RunCampaignJob(ctx context.Context, id snowflake.ID) (Result, error) {
	return r.runCampaign(ctx, id, r.jobs.Start)
}

// ForceCampaignJob runs the campaign job id even when it is marked running,
// which recovers a job whose runner died mid-run. The caller must know that
// no other runner still owns it.
func (r *Runner) ForceCampaignJob(ctx context.Context, id snowflake.ID) (Result, error) {
	return r.runCampaign(ctx, id, r.jobs.Restart)
}

type startFunc func(ctx context.Context, level domain.Level, id snowflake.ID) (bool, error)

func (r *Runner) runCampaign(ctx context.Context, id snowflake.ID, start startFunc) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.run_campaign_job", attribute.Int64("job_id", id.Int64()))
	defer func() { tracing.EndSpan(span, err) }()

	job, err := r.jobs.GetCampaignJob(ctx, id)
	if err != nil {
		return Result{}, err
	}
	started, err := start(ctx, domain.LevelCampaign, id)
	if err != nil || !started {
		return Result{}, err
	}
	ctx = obscontext.WithJobKind(ctx, string(job.Kind))
	log := logger.WithContext(ctx, r.log).With(
		zap.String("job_id", id.String()),
		zap.String("campaign_id", job.CampaignID.String()),
	)
	log.Debug("campaign job started")

	runErr := r.runCampaignJob(ctx, log, job)
	status, err := r.jobs.Finish(ctx, domain.LevelCampaign, id, runErr)
	if err != nil {
		return Result{Ran: true, Err: runErr}, err
	}
	log.Debug("campaign job finished", zap.String("status", string(status)))
	return Result{Ran: true, Status: status, Err: runErr}, nil
}

func (r *Runner) runCampaignJob(ctx context.Context, log *zap.Logger, job domain.CampaignJob) error {
	action, err := job.Action()
	if err != nil {
		return err
	}
	progress := r.jobs.Progress(domain.LevelCampaign, job.ID)

	switch a := action.(type) {
	case domain.Generate:
		return r.generate(ctx, log, job, a, progress)
	case domain.AssignCredits:
		return r.credits.MakeCampaignAssignments(ctx, job.CampaignID, progress)
	case domain.PopulateFromDraft:
		return r.promoter.PopulateFromDraft(ctx, a.DraftPoolID, a.FinalPoolID, progress)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownKind, action)
	}
}

// RunPoolJob runs the pool job id.
func (r *Runner) RunPoolJob(ctx context.Context, id snowflake.ID) (Result, error) {
	return r.runPool(ctx, id, r.jobs.Start)
}

// ForcePoolJob is the pool job counterpart of ForceCampaignJob.
func (r *Runner) ForcePoolJob(ctx context.Context, id snowflake.ID) (Result, error) {
	return r.runPool(ctx, id, r.jobs.Restart)
}

func (r *Runner) runPool(ctx context.Context, id snowflake.ID, start startFunc) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.run_pool_job", attribute.Int64("job_id", id.Int64()))
	defer func() { tracing.EndSpan(span, err) }()

	job, err := r.jobs.GetPoolJob(ctx, id)
	if err != nil {
		return Result{}, err
	}
	started, err := start(ctx, domain.LevelPool, id)
	if err != nil || !started {
		return Result{}, err
	}
	ctx = obscontext.WithJobKind(ctx, string(job.Kind))
	log := logger.WithContext(ctx, r.log).With(
		zap.String("job_id", id.String()),
		zap.String("pool_id", job.PoolID.String()),
	)

	runErr := r.runPoolJob(ctx, log, job)
	if runErr != nil && !errors.Is(runErr, domain.ErrWaitForOtherJobs) {
		r.failPool(ctx, log, job.PoolID, runErr)
	}
	status, err := r.jobs.Finish(ctx, domain.LevelPool, id, runErr)
	if err != nil {
		return Result{Ran: true, Err: runErr}, err
	}
	log.Debug("pool job finished", zap.String("status", string(status)))

	if status == domain.StatusCompleted && job.Kind == domain.PoolJobFinalizeInvoices {
		r.afterFinalize(ctx, log, job.PoolID)
	}
	return Result{Ran: true, Status: status, Err: runErr}, nil
}

func (r *Runner) runPoolJob(ctx context.Context, log *zap.Logger, job domain.PoolJob) error {
	action, err := job.Action()
	if err != nil {
		return err
	}
	progress := r.jobs.Progress(domain.LevelPool, job.ID)

	switch a := action.(type) {
	case domain.GenerateInvoices:
		bc, err := r.builder.NewBuildContext(ctx, job.PoolID)
		if err != nil {
			return err
		}
		return r.builder.BuildForUsers(ctx, bc, a.Users, progress)
	case domain.FinalizeInvoices:
		return r.finalize(ctx, log, job, progress)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownKind, action)
	}
}

// Dispatch runs a freshly created campaign job right away when jobs run
// inline. Otherwise the scheduler picks it up.
func (r *Runner) Dispatch(ctx context.Context, job domain.CampaignJob) {
	if !r.billing.Get().Pipeline.RunJobsInline {
		return
	}
	if _, err := r.RunCampaignJob(ctx, job.ID); err != nil {
		r.log.Error("inline campaign job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// failPool records the failure of a pool job on its pool. A pool that
// already left the running states is left alone.
func (r *Runner) failPool(ctx context.Context, log *zap.Logger, poolID snowflake.ID, runErr error) {
	var usageErr *external.UsageServiceError
	if errors.As(runErr, &usageErr) {
		log.Warn("usage service failure", zap.String("op", usageErr.Op), zap.Error(usageErr.Err))
	}
	if _, err := r.campaigns.MarkPoolFailed(ctx, nil, poolID, runErr.Error()); err != nil {
		log.Error("mark pool failed", zap.Error(err))
	}
}
