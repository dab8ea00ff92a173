package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// JobView is the externally visible state of a job.
type JobView struct {
	ID          snowflake.ID  `json:"id"`
	Level       Level         `json:"level"`
	Kind        string        `json:"kind"`
	Label       string        `json:"label"`
	ParentID    *snowflake.ID `json:"parent_id,omitempty"`
	Progression string        `json:"progression"`
	State
}

// JobStatus groups a job with the pool jobs it spawned.
type JobStatus struct {
	Job              JobView   `json:"job"`
	Children         []JobView `json:"children,omitempty"`
	AllJobsCompleted bool      `json:"all_jobs_completed"`
	AnyJobFailed     bool      `json:"any_job_failed"`
}

type Service interface {
	// CreateCampaignJob and CreatePoolJob insert through tx when not nil so
	// that job creation commits with the caller's writes.
	CreateCampaignJob(ctx context.Context, tx *gorm.DB, campaignID snowflake.ID, action CampaignAction) (CampaignJob, error)
	CreatePoolJob(ctx context.Context, tx *gorm.DB, poolID snowflake.ID, campaignJobID *snowflake.ID, action PoolAction) (PoolJob, error)

	GetCampaignJob(ctx context.Context, id snowflake.ID) (CampaignJob, error)
	GetPoolJob(ctx context.Context, id snowflake.ID) (PoolJob, error)
	ListCampaignJobs(ctx context.Context, campaignID snowflake.ID) ([]CampaignJob, error)
	SiblingPoolJobs(ctx context.Context, job PoolJob, kind PoolJobKind) ([]PoolJob, error)
	Status(ctx context.Context, level Level, id snowflake.ID) (JobStatus, error)

	// Start moves a registered or waiting job to running. It reports false
	// when another runner owns the job or it already finished.
	Start(ctx context.Context, level Level, id snowflake.ID) (bool, error)
	// Restart behaves like Start but also takes over a running job, such as
	// one left behind by a crashed runner. Its progress counters are reset.
	Restart(ctx context.Context, level Level, id snowflake.ID) (bool, error)
	// Finish records the outcome of a run and returns the resulting status.
	Finish(ctx context.Context, level Level, id snowflake.ID, runErr error) (Status, error)
	Progress(level Level, id snowflake.ID) Progress
}
