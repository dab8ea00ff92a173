package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("job_not_found")
	ErrInvalidLevel  = errors.New("invalid_job_level")
	ErrInvalidAction = errors.New("invalid_job_action")
	ErrInvalidParams = errors.New("invalid_job_params")
	ErrUnknownKind   = errors.New("unknown_job_kind")
	ErrNotRunnable   = errors.New("job_not_runnable")

	// ErrWaitForOtherJobs puts a job in waiting; the scheduler picks it up again.
	ErrWaitForOtherJobs = errors.New("wait_for_other_jobs")
)

// JobError fails a job with an operator facing label. It describes an
// expected refusal rather than a crash.
type JobError struct {
	Message string
}

func (e *JobError) Error() string { return e.Message }

func (e *JobError) Precondition() bool { return true }

func NewJobError(format string, args ...any) *JobError {
	return &JobError{Message: fmt.Sprintf(format, args...)}
}
