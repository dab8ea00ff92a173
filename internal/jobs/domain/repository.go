package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCampaignJob(ctx context.Context, db *gorm.DB, job *CampaignJob) error
	InsertPoolJob(ctx context.Context, db *gorm.DB, job *PoolJob) error
	FindCampaignJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CampaignJob, error)
	FindPoolJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PoolJob, error)
	ListCampaignJobs(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*CampaignJob, error)
	ListPoolJobs(ctx context.Context, db *gorm.DB, campaignJobID snowflake.ID) ([]*PoolJob, error)
	ListSiblingPoolJobs(ctx context.Context, db *gorm.DB, poolID snowflake.ID, campaignJobID *snowflake.ID, kind PoolJobKind) ([]*PoolJob, error)

	// Transition moves a job from one of the from statuses to to, applying
	// extra column updates. It reports false when the job was not in a from status.
	Transition(ctx context.Context, db *gorm.DB, level Level, id snowflake.ID, from []Status, to Status, updates map[string]any) (bool, error)
	UpdateCounts(ctx context.Context, db *gorm.DB, level Level, id snowflake.ID, updates map[string]any) error

	// ClaimRunnable lists runnable job ids, skipping rows locked by another claimer.
	ClaimRunnable(ctx context.Context, db *gorm.DB, level Level, statuses []Status, limit int) ([]snowflake.ID, error)
	CountRunningSince(ctx context.Context, db *gorm.DB, level Level, before time.Time) (int, error)
}
