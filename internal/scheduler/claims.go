package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"gorm.io/gorm"
)

type claimTarget struct {
	table    string
	resource string
	statuses []jobsdomain.Status
}

func targetFor(level jobsdomain.Level) (claimTarget, error) {
	switch level {
	case jobsdomain.LevelCampaign:
		return claimTarget{
			table:    "campaign_jobs",
			resource: obsmetrics.LockResourceCampaignJobs,
			statuses: []jobsdomain.Status{jobsdomain.StatusRegistered},
		}, nil
	case jobsdomain.LevelPool:
		return claimTarget{
			table:    "pool_jobs",
			resource: obsmetrics.LockResourcePoolJobs,
			statuses: []jobsdomain.Status{jobsdomain.StatusRegistered, jobsdomain.StatusWaiting},
		}, nil
	}
	return claimTarget{}, jobsdomain.ErrInvalidLevel
}

// claimRunnable returns up to limit runnable job ids greater than after.
// Rows locked by a concurrent claimer are skipped; the conditional start
// transition of the runner decides who actually runs a job.
func (s *Scheduler) claimRunnable(ctx context.Context, level jobsdomain.Level, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	target, err := targetFor(level)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var raw []int64
	err = s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		err := tx.Raw(fmt.Sprintf(
			`SELECT id
			 FROM %s
			 WHERE status IN ? AND id > ?
			 ORDER BY id
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			target.table,
		), target.statuses, int64(after), limit).Scan(&raw).Error
		obsmetrics.Scheduler().ObserveDBLockWait(target.resource, time.Since(lockStart))
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIDs(raw), nil
}

// staleRunning lists jobs of level running since before cutoff.
func (s *Scheduler) staleRunning(ctx context.Context, level jobsdomain.Level, cutoff time.Time) ([]snowflake.ID, error) {
	target, err := targetFor(level)
	if err != nil {
		return nil, err
	}
	var raw []int64
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT id
		 FROM %s
		 WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?
		 ORDER BY id`,
		target.table,
	), jobsdomain.StatusRunning, cutoff).Scan(&raw).Error
	if err != nil {
		return nil, err
	}
	return toIDs(raw), nil
}

func toIDs(raw []int64) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, snowflake.ID(id))
	}
	return ids
}
