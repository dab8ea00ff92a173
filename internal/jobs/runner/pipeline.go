package runner

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// generate starts the draft pool, lists the subscribed users and fans them
// out into generate_invoices jobs of at most PoolBatchSize users, followed
// by one finalize_invoices job. Any failure once the pool runs fails the
// pool as well.
func (r *Runner) generate(ctx context.Context, log *zap.Logger, job domain.CampaignJob, action domain.Generate, progress domain.Progress) (err error) {
	poolID := action.DraftPoolID
	log = logger.WithPool(log, job.CampaignID.Int64(), poolID.Int64())

	running, err := r.campaigns.MarkPoolRunning(ctx, nil, poolID)
	if err != nil {
		return err
	}
	if !running {
		resumed, err := r.resumeGenerate(ctx, log, job, poolID)
		if err != nil || resumed {
			return err
		}
	}
	defer func() {
		if err != nil {
			r.failPool(ctx, log, poolID, err)
		}
	}()

	users, err := r.subscribedUsers(ctx, poolID)
	if err != nil {
		return err
	}

	batches := batch(users, r.billing.Get().Pipeline.PoolBatchSize)
	if err := progress.SetTotal(ctx, len(batches)+1); err != nil {
		return err
	}

	var created []domain.PoolJob
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, users := range batches {
			poolJob, err := r.jobs.CreatePoolJob(ctx, tx, poolID, &job.ID, domain.GenerateInvoices{Users: users})
			if err != nil {
				return err
			}
			created = append(created, poolJob)
		}
		poolJob, err := r.jobs.CreatePoolJob(ctx, tx, poolID, &job.ID, domain.FinalizeInvoices{})
		if err != nil {
			return err
		}
		created = append(created, poolJob)
		return nil
	})
	if err != nil {
		return err
	}
	if err := progress.Increment(ctx, len(created)); err != nil {
		return err
	}
	log.Info("pool jobs registered", zap.Int("users", len(users)), zap.Int("jobs", len(created)))

	if r.billing.Get().Pipeline.RunJobsInline {
		for _, poolJob := range created {
			if _, err := r.RunPoolJob(ctx, poolJob.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// resumeGenerate handles a generate job run again after a crash, with its
// pool already running. It reports true when the pool jobs were registered
// by the earlier run, in which case there is nothing left to do. It reports
// false when the fan-out never committed and must be done again.
func (r *Runner) resumeGenerate(ctx context.Context, log *zap.Logger, job domain.CampaignJob, poolID snowflake.ID) (bool, error) {
	pool, err := r.campaigns.GetPool(ctx, poolID)
	if err != nil {
		return false, err
	}
	if pool.Status != campaigndomain.PoolStatusRunning {
		return false, domain.NewJobError("pool is not registered")
	}
	status, err := r.jobs.Status(ctx, domain.LevelCampaign, job.ID)
	if err != nil {
		return false, err
	}
	if len(status.Children) == 0 {
		log.Warn("resume generate before pool jobs were registered")
		return false, nil
	}
	log.Warn("resume generate after pool jobs were registered", zap.Int("jobs", len(status.Children)))
	return true, nil
}

func (r *Runner) subscribedUsers(ctx context.Context, poolID snowflake.ID) ([]domain.User, error) {
	bc, err := r.builder.NewBuildContext(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return r.builder.SubscribedUsers(ctx, bc)
}

// finalize aggregates the pool once every sibling generate job completed.
// Pending siblings put the job back in waiting, a failed sibling fails it.
func (r *Runner) finalize(ctx context.Context, log *zap.Logger, job domain.PoolJob, progress domain.Progress) error {
	siblings, err := r.jobs.SiblingPoolJobs(ctx, job, domain.PoolJobGenerateInvoices)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.Status == domain.StatusFailed {
			return domain.NewJobError("generation job %s failed", sibling.ID)
		}
	}
	for _, sibling := range siblings {
		if sibling.Status != domain.StatusCompleted {
			log.Debug("waiting for generation jobs", zap.String("pending", sibling.ID.String()))
			return domain.ErrWaitForOtherJobs
		}
	}

	if err := r.aggregator.Generate(ctx, job.PoolID, nil, progress); err != nil {
		if errors.Is(err, aggregator.ErrFinalPool) {
			return domain.NewJobError("pool is final")
		}
		return err
	}
	completed, err := r.campaigns.MarkPoolCompleted(ctx, nil, job.PoolID)
	if err != nil {
		return err
	}
	if !completed {
		return domain.NewJobError("pool is not running")
	}
	log.Info("draft pool completed")
	return nil
}

// afterFinalize promotes a completed draft pool when auto promotion is on.
// A refused promotion is logged; the draft pool stays completed.
func (r *Runner) afterFinalize(ctx context.Context, log *zap.Logger, poolID snowflake.ID) {
	if !r.billing.Get().Pipeline.AutoPromote {
		return
	}
	final, job, err := r.promoter.Promote(ctx, poolID)
	if err != nil {
		log.Warn("auto promotion refused", zap.Error(err))
		return
	}
	log.Info("draft pool promoted", zap.String("final_pool_id", final.ID.String()))
	r.Dispatch(ctx, job)
}

func batch(users []domain.User, size int) [][]domain.User {
	if size <= 0 {
		size = len(users)
	}
	var out [][]domain.User
	for start := 0; start < len(users); start += size {
		end := start + size
		if end > len(users) {
			end = len(users)
		}
		out = append(out, users[start:end])
	}
	return out
}
