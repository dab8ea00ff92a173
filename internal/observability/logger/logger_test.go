package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/poolbilling/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextIncludesTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	traceID, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	spanID, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	WithContext(ctx, zap.New(core)).Info("hello")
	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestWithContextAddsJobFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ctx := obscontext.WithActor(context.Background(), "system", "scheduler")
	ctx = obscontext.WithJobKind(ctx, "generate_invoices")
	WithPool(WithContext(ctx, zap.New(core)), 7, 9).Info("pool")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "scheduler", fields["actor_id"])
	assert.Equal(t, "generate_invoices", fields["job_kind"])
	assert.EqualValues(t, 7, fields["campaign_id"])
	assert.EqualValues(t, 9, fields["pool_id"])
	assert.NotContains(t, fields, "request_id")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "chatty"})
	assert.Error(t, err)
}
