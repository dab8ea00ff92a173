package observability

import (
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the logger, the tracer and meter providers and the
// pipeline instruments. Scheduler metrics register on the default
// prometheus registry at startup.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.logger,
		Config.tracing,
		Config.metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(
		func(*sdktrace.TracerProvider) {},
		func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) },
	),
)
