package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/jobs/domain"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
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

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("jobs.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Service) CreateCampaignJob(ctx context.Context, tx *gorm.DB, campaignID snowflake.ID, action domain.CampaignAction) (domain.CampaignJob, error) {
	job, err := domain.NewCampaignJob(s.genID.Generate(), campaignID, action, s.clock.Now())
	if err != nil {
		return domain.CampaignJob{}, err
	}
	if err := s.repo.InsertCampaignJob(ctx, s.conn(tx), &job); err != nil {
		return domain.CampaignJob{}, err
	}
	s.log.Debug("campaign job registered",
		zap.String("job_id", job.ID.String()),
		zap.String("campaign_id", campaignID.String()),
		zap.String("kind", string(job.Kind)),
	)
	return job, nil
}

func (s *Service) CreatePoolJob(ctx context.Context, tx *gorm.DB, poolID snowflake.ID, campaignJobID *snowflake.ID, action domain.PoolAction) (domain.PoolJob, error) {
	job, err := domain.NewPoolJob(s.genID.Generate(), poolID, campaignJobID, action, s.clock.Now())
	if err != nil {
		return domain.PoolJob{}, err
	}
	if err := s.repo.InsertPoolJob(ctx, s.conn(tx), &job); err != nil {
		return domain.PoolJob{}, err
	}
	s.log.Debug("pool job registered",
		zap.String("job_id", job.ID.String()),
		zap.String("pool_id", poolID.String()),
		zap.String("kind", string(job.Kind)),
	)
	return job, nil
}

func (s *Service) GetCampaignJob(ctx context.Context, id snowflake.ID) (domain.CampaignJob, error) {
	job, err := s.repo.FindCampaignJob(ctx, s.db, id)
	if err != nil {
		return domain.CampaignJob{}, err
	}
	if job == nil {
		return domain.CampaignJob{}, domain.ErrNotFound
	}
	return *job, nil
}

func (s *Service) GetPoolJob(ctx context.Context, id snowflake.ID) (domain.PoolJob, error) {
	job, err := s.repo.FindPoolJob(ctx, s.db, id)
	if err != nil {
		return domain.PoolJob{}, err
	}
	if job == nil {
		return domain.PoolJob{}, domain.ErrNotFound
	}
	return *job, nil
}

func (s *Service) ListCampaignJobs(ctx context.Context, campaignID snowflake.ID) ([]domain.CampaignJob, error) {
	items, err := s.repo.ListCampaignJobs(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.CampaignJob, 0, len(items))
	for _, item := range items {
		jobs = append(jobs, *item)
	}
	return jobs, nil
}

// SiblingPoolJobs lists the pool jobs of kind spawned by the same campaign
// job on the same pool, excluding job itself.
func (s *Service) SiblingPoolJobs(ctx context.Context, job domain.PoolJob, kind domain.PoolJobKind) ([]domain.PoolJob, error) {
	items, err := s.repo.ListSiblingPoolJobs(ctx, s.db, job.PoolID, job.CampaignJobID, kind)
	if err != nil {
		return nil, err
	}
	siblings := make([]domain.PoolJob, 0, len(items))
	for _, item := range items {
		if item.ID == job.ID {
			continue
		}
		siblings = append(siblings, *item)
	}
	return siblings, nil
}

func (s *Service) Status(ctx context.Context, level domain.Level, id snowflake.ID) (domain.JobStatus, error) {
	switch level {
	case domain.LevelCampaign:
		job, err := s.GetCampaignJob(ctx, id)
		if err != nil {
			return domain.JobStatus{}, err
		}
		children, err := s.repo.ListPoolJobs(ctx, s.db, job.ID)
		if err != nil {
			return domain.JobStatus{}, err
		}
		status := domain.JobStatus{Job: campaignView(job)}
		for _, child := range children {
			status.Children = append(status.Children, poolView(*child))
		}
		status.AllJobsCompleted, status.AnyJobFailed = summarize(status.Job, status.Children)
		return status, nil
	case domain.LevelPool:
		job, err := s.GetPoolJob(ctx, id)
		if err != nil {
			return domain.JobStatus{}, err
		}
		status := domain.JobStatus{Job: poolView(job)}
		status.AllJobsCompleted, status.AnyJobFailed = summarize(status.Job, nil)
		return status, nil
	}
	return domain.JobStatus{}, domain.ErrInvalidLevel
}

func summarize(job domain.JobView, children []domain.JobView) (allCompleted, anyFailed bool) {
	allCompleted = job.Status == domain.StatusCompleted
	anyFailed = job.Status == domain.StatusFailed
	for _, child := range children {
		if child.Status != domain.StatusCompleted {
			allCompleted = false
		}
		if child.Status == domain.StatusFailed {
			anyFailed = true
		}
	}
	return allCompleted, anyFailed
}

func campaignView(job domain.CampaignJob) domain.JobView {
	return domain.JobView{
		ID:          job.ID,
		Level:       domain.LevelCampaign,
		Kind:        string(job.Kind),
		Label:       job.Label(),
		Progression: job.Progression(),
		State:       job.State,
	}
}

func poolView(job domain.PoolJob) domain.JobView {
	return domain.JobView{
		ID:          job.ID,
		Level:       domain.LevelPool,
		Kind:        string(job.Kind),
		Label:       job.Label(),
		ParentID:    job.CampaignJobID,
		Progression: job.Progression(),
		State:       job.State,
	}
}

func (s *Service) Start(ctx context.Context, level domain.Level, id snowflake.ID) (bool, error) {
	now := s.clock.Now()
	return s.start(ctx, level, id,
		[]domain.Status{domain.StatusRegistered, domain.StatusWaiting},
		map[string]any{"started_at": now, "updated_at": now},
	)
}

func (s *Service) Restart(ctx context.Context, level domain.Level, id snowflake.ID) (bool, error) {
	now := s.clock.Now()
	started, err := s.start(ctx, level, id,
		[]domain.Status{domain.StatusRegistered, domain.StatusWaiting, domain.StatusRunning},
		map[string]any{"started_at": now, "updated_at": now, "current_count": 0},
	)
	if started {
		s.log.Warn("job restarted", zap.String("level", string(level)), zap.String("job_id", id.String()))
	}
	return started, err
}

func (s *Service) start(ctx context.Context, level domain.Level, id snowflake.ID, from []domain.Status, updates map[string]any) (bool, error) {
	started, err := s.repo.Transition(ctx, s.db, level, id, from, domain.StatusRunning, updates)
	if err != nil {
		return false, err
	}
	if started {
		obsmetrics.Scheduler().IncJobTransition(string(level), "", string(domain.StatusRunning))
	}
	return started, nil
}

// Finish maps the outcome of a run onto the job state. A wait request moves
// the job to waiting, a JobError fails it with a label, any other error
// fails it with the raw message.
func (s *Service) Finish(ctx context.Context, level domain.Level, id snowflake.ID, runErr error) (domain.Status, error) {
	now := s.clock.Now()
	to := domain.StatusCompleted
	updates := map[string]any{"updated_at": now}

	var jobErr *domain.JobError
	switch {
	case runErr == nil:
		updates["completed_at"] = now
	case errors.Is(runErr, domain.ErrWaitForOtherJobs):
		to = domain.StatusWaiting
	case errors.As(runErr, &jobErr):
		to = domain.StatusFailed
		updates["exception"] = jobErr.Message
		updates["failure_label"] = fmt.Sprintf("Error: %s", jobErr.Message)
		updates["completed_at"] = now
	default:
		to = domain.StatusFailed
		updates["exception"] = runErr.Error()
		updates["completed_at"] = now
	}

	moved, err := s.repo.Transition(ctx, s.db, level, id, []domain.Status{domain.StatusRunning}, to, updates)
	if err != nil {
		return "", err
	}
	if !moved {
		return "", fmt.Errorf("%w: %s job %s is not running", domain.ErrNotRunnable, level, id)
	}
	obsmetrics.Scheduler().IncJobTransition(string(level), "", string(to))
	if to == domain.StatusFailed {
		s.log.Warn("job failed",
			zap.String("level", string(level)),
			zap.String("job_id", id.String()),
			zap.Error(runErr),
		)
	}
	return to, nil
}

func (s *Service) Progress(level domain.Level, id snowflake.ID) domain.Progress {
	return &tracker{svc: s, level: level, id: id}
}

// tracker persists progress counters on the job row outside any caller
// transaction so that they are visible while the job runs.
type tracker struct {
	svc   *Service
	level domain.Level
	id    snowflake.ID
}

func (t *tracker) SetTotal(ctx context.Context, total int) error {
	return t.svc.repo.UpdateCounts(ctx, t.svc.db, t.level, t.id, map[string]any{
		"total_count": total,
		"updated_at":  t.svc.clock.Now(),
	})
}

func (t *tracker) Increment(ctx context.Context, amount int) error {
	return t.svc.repo.UpdateCounts(ctx, t.svc.db, t.level, t.id, map[string]any{
		"current_count": gorm.Expr("current_count + ?", amount),
		"updated_at":    t.svc.clock.Now(),
	})
}
