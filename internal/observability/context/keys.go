// Package context carries the identifiers that request and job logs are
// correlated on.
package context

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type key int

const (
	requestIDKey key = iota
	actorKey
	jobKindKey
)

type actor struct {
	kind string
	id   string
}

// NewRequestID returns a lexicographically sortable request id.
func NewRequestID() string {
	return ulid.Make().String()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithActor records who triggered the work, for instance system/scheduler.
func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: kind, id: id})
}

func ActorFromContext(ctx context.Context) (kind, id string) {
	a, _ := ctx.Value(actorKey).(actor)
	return a.kind, a.id
}

// WithJobKind tags the context with the kind of the job being run.
func WithJobKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKindKey, kind)
}

func JobKindFromContext(ctx context.Context) string {
	kind, _ := ctx.Value(jobKindKey).(string)
	return kind
}
