package domain

import "context"

// Progress receives the (current, total) counters of a running job.
type Progress interface {
	SetTotal(ctx context.Context, total int) error
	Increment(ctx context.Context, amount int) error
}

// NopProgress discards progress updates.
type NopProgress struct{}

func (NopProgress) SetTotal(context.Context, int) error  { return nil }
func (NopProgress) Increment(context.Context, int) error { return nil }
