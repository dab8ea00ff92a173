package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type guardError struct{}

func (guardError) Error() string      { return "pool is final" }
func (guardError) Precondition() bool { return true }

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "precondition", err: fmt.Errorf("promote: %w", guardError{}), want: SchedulerJobReasonPrecondition},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "check_violation", err: &pgconn.PgError{Code: "23514"}, want: SchedulerJobReasonCheckViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "08006"}, want: SchedulerJobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	assert.True(t, IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	assert.False(t, IsSchedulerErrorRetryable(guardError{}))
	assert.False(t, IsSchedulerErrorRetryable(errors.New("boom")))
	assert.False(t, IsSchedulerErrorRetryable(nil))
}

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerJobReasonDB, ClassifySchedulerErrorType(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, SchedulerJobReasonPrecondition, ClassifySchedulerErrorType(guardError{}))
	assert.Equal(t, "business_rule", ClassifySchedulerErrorType(errors.New("no pool")))
	assert.Equal(t, SchedulerJobReasonUnknown, ClassifySchedulerErrorType(nil))
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "poolbilling",
		Environment: "test",
	})

	metrics.AddBatchProcessed("pool_jobs", "users", 3)
	metrics.AddBatchProcessed("pool_jobs", "users", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("pool_jobs", "users"))
	assert.Equal(t, float64(3), got)
}

func TestIncJobTransitionAndStaleRunning(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncJobTransition("pool", "finalize_invoices", "waiting")
	metrics.IncJobTransition("pool", "finalize_invoices", "waiting")
	metrics.SetStaleRunning("campaign", 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.jobTransitions.WithLabelValues("pool", "finalize_invoices", "waiting")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.staleRunning.WithLabelValues("campaign")))
}
