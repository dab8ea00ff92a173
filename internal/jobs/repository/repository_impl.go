package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/jobs/domain"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func tableFor(level domain.Level) (string, error) {
	switch level {
	case domain.LevelCampaign:
		return "campaign_jobs", nil
	case domain.LevelPool:
		return "pool_jobs", nil
	}
	return "", domain.ErrInvalidLevel
}

func lockResourceFor(level domain.Level) string {
	if level == domain.LevelPool {
		return obsmetrics.LockResourcePoolJobs
	}
	return obsmetrics.LockResourceCampaignJobs
}

func (r *repo) InsertCampaignJob(ctx context.Context, db *gorm.DB, job *domain.CampaignJob) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) InsertPoolJob(ctx context.Context, db *gorm.DB, job *domain.PoolJob) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindCampaignJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CampaignJob, error) {
	var job domain.CampaignJob
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) FindPoolJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PoolJob, error) {
	var job domain.PoolJob
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListCampaignJobs(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*domain.CampaignJob, error) {
	var jobs []*domain.CampaignJob
	err := db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at asc, id asc").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListPoolJobs(ctx context.Context, db *gorm.DB, campaignJobID snowflake.ID) ([]*domain.PoolJob, error) {
	var jobs []*domain.PoolJob
	err := db.WithContext(ctx).
		Where("campaign_job_id = ?", campaignJobID).
		Order("id asc").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListSiblingPoolJobs(ctx context.Context, db *gorm.DB, poolID snowflake.ID, campaignJobID *snowflake.ID, kind domain.PoolJobKind) ([]*domain.PoolJob, error) {
	query := db.WithContext(ctx).Where("pool_id = ? AND kind = ?", poolID, kind)
	if campaignJobID != nil {
		query = query.Where("campaign_job_id = ?", *campaignJobID)
	} else {
		query = query.Where("campaign_job_id IS NULL")
	}
	var jobs []*domain.PoolJob
	if err := query.Order("id asc").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, level domain.Level, id snowflake.ID, from []domain.Status, to domain.Status, updates map[string]any) (bool, error) {
	table, err := tableFor(level)
	if err != nil {
		return false, err
	}
	values := map[string]any{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	query := db.WithContext(ctx).Table(table).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	result := query.Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateCounts(ctx context.Context, db *gorm.DB, level domain.Level, id snowflake.ID, updates map[string]any) error {
	table, err := tableFor(level)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) ClaimRunnable(ctx context.Context, db *gorm.DB, level domain.Level, statuses []domain.Status, limit int) ([]snowflake.ID, error) {
	table, err := tableFor(level)
	if err != nil {
		return nil, err
	}
	var ids []snowflake.ID
	lockStart := time.Now()
	err = db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT id
		 FROM %s
		 WHERE status IN ?
		 ORDER BY created_at, id
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`, table),
		statuses,
		limit,
	).Scan(&ids).Error
	obsmetrics.Scheduler().ObserveDBLockWait(lockResourceFor(level), time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) CountRunningSince(ctx context.Context, db *gorm.DB, level domain.Level, before time.Time) (int, error) {
	table, err := tableFor(level)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.WithContext(ctx).Table(table).
		Where("status = ? AND started_at < ?", domain.StatusRunning, before).
		Count(&count).Error
	return int(count), err
}
