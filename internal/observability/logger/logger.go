// Package logger builds the zap logger of the process and derives
// request and job scoped loggers from it.
package logger

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	obscontext "github.com/smallbiznis/poolbilling/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Service     string
	Environment string
	Version     string
	Level       string
	// Format is json unless set to console.
	Format string
	// Development logs stack traces from warn and disables sampling.
	Development bool
}

// New builds the process logger, installs it as the zap global and syncs
// it when the app stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cmp.Or(strings.TrimSpace(cfg.Level), "info"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zc.Encoding = "console"
	}
	if cfg.Development {
		zc.Development = true
		zc.Sampling = nil
	}

	log, err := zc.Build(zap.Fields(
		zap.String("service", cmp.Or(cfg.Service, "poolbilling")),
		zap.String("env", cfg.Environment),
		zap.String("version", cfg.Version),
	))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	if lc != nil {
		lc.Append(fx.StopHook(func() { _ = log.Sync() }))
	}
	return log, nil
}

// WithContext adds the request, actor, job and trace identifiers held by
// ctx to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	add("request_id", obscontext.RequestIDFromContext(ctx))
	actorKind, actorID := obscontext.ActorFromContext(ctx)
	add("actor_type", actorKind)
	add("actor_id", actorID)
	add("job_kind", obscontext.JobKindFromContext(ctx))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		add("trace_id", sc.TraceID().String())
		add("span_id", sc.SpanID().String())
	}

	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithPool adds campaign and pool identifiers to the logger.
func WithPool(log *zap.Logger, campaignID, poolID int64) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(
		zap.Int64("campaign_id", campaignID),
		zap.Int64("pool_id", poolID),
	)
}
