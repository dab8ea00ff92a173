package metrics

import (
	"cmp"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/poolbilling/pkg/db"
	"gorm.io/gorm"
)

// Job error reasons. They double as log error types, except that every
// reason of a database failure is logged as "db".
const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonPrecondition         = "precondition"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonCheckViolation       = "check_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonLockHeld = "lock_held"
)

const (
	LockResourceCampaignJobs = "campaign_jobs"
	LockResourcePoolJobs     = "pool_jobs"
	LockResourceCounters     = "counters"
	LockResourceCredits      = "credits"
)

// SchedulerMetrics are the prometheus series of the job scheduler and of the
// job state machine.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobTransitions *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	staleRunning   *prometheus.GaugeVec
	runLoopLag     prometheus.Histogram
	dbLockWait     *prometheus.HistogramVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the process wide scheduler metrics.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig registers the scheduler metrics on first use. Later
// calls ignore cfg.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(reg prometheus.Registerer, cfg Config) *SchedulerMetrics {
	labels := prometheus.Labels{
		"service": cmp.Or(strings.TrimSpace(cfg.ServiceName), "poolbilling"),
		"env":     cmp.Or(strings.TrimSpace(cfg.Environment), "unknown"),
	}
	counter := func(name, help string, by ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels}, by)
	}
	latency := []float64{0.005, 0.05, 0.25, 1, 5, 30, 120, 600, 1800}

	m := &SchedulerMetrics{
		jobRuns:        counter("poolbilling_scheduler_job_runs_total", "Scheduler ticks by job.", "job"),
		jobTimeouts:    counter("poolbilling_scheduler_job_timeouts_total", "Scheduler ticks cut by their deadline.", "job"),
		jobErrors:      counter("poolbilling_scheduler_job_errors_total", "Scheduler tick failures by reason.", "job", "reason"),
		jobTransitions: counter("poolbilling_job_status_transitions_total", "Campaign and pool job status transitions.", "level", "kind", "to"),
		batchProcessed: counter("poolbilling_scheduler_batch_processed_total", "Jobs run per scheduler tick.", "job", "resource"),
		batchDeferred:  counter("poolbilling_scheduler_batch_deferred_total", "Scheduler ticks skipped by reason.", "job", "reason"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "poolbilling_scheduler_job_duration_seconds", Help: "Scheduler tick latency.",
			Buckets: latency, ConstLabels: labels,
		}, []string{"job"}),
		staleRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "poolbilling_scheduler_stale_running_jobs", Help: "Jobs running for longer than the stale threshold. Re-run them with force.",
			ConstLabels: labels,
		}, []string{"level"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "poolbilling_scheduler_runloop_lag_seconds", Help: "Delay of a scheduler tick past its interval.",
			Buckets: latency, ConstLabels: labels,
		}),
		dbLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "poolbilling_db_lock_wait_seconds", Help: "Time spent acquiring row locks.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.25, 1, 5, 30}, ConstLabels: labels,
		}, []string{"resource"}),
	}
	reg.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.jobTransitions,
		m.batchProcessed, m.batchDeferred, m.staleRunning, m.runLoopLag, m.dbLockWait)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.jobRuns.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
	}
}

// IncJobTransition counts a job entering status to. level is "campaign" or "pool".
func (m *SchedulerMetrics) IncJobTransition(level, kind, to string) {
	if m != nil {
		m.jobTransitions.WithLabelValues(level, kind, to).Inc()
	}
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m != nil && count > 0 {
		m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
	}
}

func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m != nil {
		m.batchDeferred.WithLabelValues(job, reason).Inc()
	}
}

func (m *SchedulerMetrics) SetStaleRunning(level string, count int) {
	if m != nil {
		m.staleRunning.WithLabelValues(level).Set(float64(count))
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m != nil {
		m.runLoopLag.Observe(max(lag, 0).Seconds())
	}
}

// ObserveDBLockWait records the time a SELECT ... FOR UPDATE waited on resource.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m != nil {
		m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
	}
}

// ClassifySchedulerJobReason maps err to a low cardinality label value.
func ClassifySchedulerJobReason(err error) string {
	var pgErr *pgconn.PgError
	var guard interface{ Precondition() bool }
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.As(err, &guard) && guard.Precondition():
		return SchedulerJobReasonPrecondition
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	case db.IsCheckViolation(err):
		return SchedulerJobReasonCheckViolation
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "55P03":
			return SchedulerJobReasonDBLockTimeout
		case "40001":
			return SchedulerJobReasonSerializationFailure
		}
		return SchedulerJobReasonDB
	case errors.Is(err, gorm.ErrInvalidDB), errors.Is(err, gorm.ErrInvalidTransaction):
		return SchedulerJobReasonDB
	}
	return SchedulerJobReasonUnknown
}

// ClassifySchedulerErrorType is the coarser grouping used in logs.
func ClassifySchedulerErrorType(err error) string {
	switch reason := ClassifySchedulerJobReason(err); reason {
	case SchedulerJobReasonDBLockTimeout, SchedulerJobReasonSerializationFailure,
		SchedulerJobReasonUniqueViolation, SchedulerJobReasonCheckViolation:
		return SchedulerJobReasonDB
	case SchedulerJobReasonUnknown:
		if err != nil {
			return "business_rule"
		}
		return reason
	default:
		return reason
	}
}

// IsSchedulerErrorRetryable reports whether the next tick may succeed where
// this one failed.
func IsSchedulerErrorRetryable(err error) bool {
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded, SchedulerJobReasonDBLockTimeout, SchedulerJobReasonSerializationFailure:
		return true
	}
	return false
}
