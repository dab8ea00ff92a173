// Package scheduler drives campaign and pool jobs. Each tick claims the
// runnable jobs, runs them through the job runner and reports jobs stuck in
// running. Stuck jobs are never retried automatically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/clock"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/jobs/runner"
	"github.com/smallbiznis/poolbilling/internal/lock"
	obscontext "github.com/smallbiznis/poolbilling/internal/observability/context"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobCampaignJobs = "campaign_jobs"
	JobPoolJobs     = "pool_jobs"
	JobStaleRunning = "stale_running"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// JobRunner runs a single job to completion.
type JobRunner interface {
	RunCampaignJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
	RunPoolJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Runner *runner.Runner
	Locker *lock.Locker `optional:"true"`
	Config Config       `optional:"true"`
}

type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	runner JobRunner
	locker *lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Runner == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    p.Config.withDefaults(),
		genID:  p.GenID,
		clock:  p.Clock,
		runner: p.Runner,
		locker: p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout, the next tick resumes
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobCampaignJobs, func(ctx context.Context) error {
			return s.runJob(ctx, JobCampaignJobs, s.cfg.BatchSize, s.cfg.JobTimeout, s.CampaignJobsJob)
		}},
		{JobPoolJobs, func(ctx context.Context) error {
			return s.runJob(ctx, JobPoolJobs, s.cfg.BatchSize, s.cfg.JobTimeout, s.PoolJobsJob)
		}},
		{JobStaleRunning, func(ctx context.Context) error {
			return s.runJob(ctx, JobStaleRunning, s.cfg.BatchSize, 30*time.Second, s.StaleRunningJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// all jobs run when none is listed
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// CampaignJobsJob runs the registered campaign jobs, oldest first.
func (s *Scheduler) CampaignJobsJob(ctx context.Context) error {
	return s.drain(ctx, JobCampaignJobs, jobsdomain.LevelCampaign, s.runner.RunCampaignJob)
}

// PoolJobsJob runs registered and waiting pool jobs. Each job is visited at
// most once per tick so that a waiting finalize job cannot spin.
func (s *Scheduler) PoolJobsJob(ctx context.Context) error {
	return s.drain(ctx, JobPoolJobs, jobsdomain.LevelPool, s.runner.RunPoolJob)
}

func (s *Scheduler) drain(
	ctx context.Context,
	name string,
	level jobsdomain.Level,
	run func(context.Context, snowflake.ID) (runner.Result, error),
) error {
	ctx, jr, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, jr)
		defer s.logJobFinish(ctx, jr)
	}
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	var after snowflake.ID

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ids, err := s.claimRunnable(ctx, level, after, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, jr, "scheduler.claim.failed", name, level, 0, err)
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		for _, id := range ids {
			ran, err := s.runOne(ctx, jr, name, level, id, run)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if ran {
				jr.AddProcessed(1)
				schedMetrics.AddBatchProcessed(name, string(level), 1)
			}
		}
	}
	return jobErr
}

// runOne runs a claimed job, holding the redis lock of the job when one is
// configured. A job whose lock is held elsewhere is skipped until the next
// tick.
func (s *Scheduler) runOne(
	ctx context.Context,
	jr *jobRun,
	name string,
	level jobsdomain.Level,
	id snowflake.ID,
	run func(context.Context, snowflake.ID) (runner.Result, error),
) (bool, error) {
	if s.locker.Enabled() {
		key := fmt.Sprintf("%s:%s", level, id)
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.logSchedulerError(ctx, jr, "scheduler.lock.failed", name, level, id, err)
			return false, err
		}
		if !ok {
			obsmetrics.Scheduler().IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			return false, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger(ctx).Warn("release job lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	s.logJobClaimed(ctx, name, level, id)
	res, err := run(ctx, id)
	if err != nil {
		s.logSchedulerError(ctx, jr, "scheduler.job.failed", name, level, id, err)
		return res.Ran, err
	}
	if res.Err != nil && res.Status == jobsdomain.StatusFailed {
		// the failure is recorded on the job; it is reported, not retried
		s.logSchedulerError(ctx, jr, "scheduler.job.failed", name, level, id, res.Err)
	}
	return res.Ran, nil
}

// StaleRunningJob reports jobs left running beyond StaleRunningAfter.
// Their side effects are unknown, so an operator must re-trigger them.
func (s *Scheduler) StaleRunningJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.StaleRunningAfter)
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for _, level := range []jobsdomain.Level{jobsdomain.LevelCampaign, jobsdomain.LevelPool} {
		ids, err := s.staleRunning(ctx, level, cutoff)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		schedMetrics.SetStaleRunning(string(level), len(ids))
		for _, id := range ids {
			s.logger(ctx).Warn("scheduler.job.stale",
				zap.String("level", string(level)),
				zap.String("job_id", id.String()),
				zap.Time("cutoff", cutoff),
			)
		}
	}
	return jobErr
}
