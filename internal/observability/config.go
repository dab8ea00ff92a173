package observability

import (
	"cmp"
	"strings"

	"github.com/smallbiznis/poolbilling/internal/config"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
)

// Config is the observability view of the application configuration.
type Config struct {
	Service     string
	Environment string
	Version     string
	LogLevel    string
	LogFormat   string
	Telemetry   config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	return Config{
		Service:     cmp.Or(strings.TrimSpace(cfg.AppName), "poolbilling"),
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    cfg.LogLevel,
		LogFormat:   cfg.LogFormat,
		Telemetry:   cfg.Telemetry,
	}
}

// Debug is set by a debug log level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) logger() logger.Config {
	return logger.Config{
		Service:     c.Service,
		Environment: c.Environment,
		Version:     c.Version,
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		Development: c.Debug(),
	}
}

func (c Config) tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.Telemetry.Enabled,
		ServiceName:      c.Service,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.Telemetry.Endpoint,
		ExporterProtocol: c.Telemetry.Protocol,
		SamplingRatio:    c.Telemetry.SamplingRatio,
	}
}

func (c Config) metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.Telemetry.Enabled,
		ExporterEndpoint: c.Telemetry.Endpoint,
		ExporterProtocol: c.Telemetry.Protocol,
		ServiceName:      c.Service,
		Environment:      c.Environment,
	}
}
