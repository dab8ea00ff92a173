package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes pipeline instruments.
type Metrics struct {
	journalLines       metric.Int64Counter
	draftDocuments     metric.Int64Counter
	promotedDocuments  metric.Int64Counter
	promotions         metric.Int64Counter
	creditAssignments  metric.Int64Counter
	creditAssignedCent metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "poolbilling"
	}
	meter := provider.Meter(name)

	journalLines, err := meter.Int64Counter("poolbilling_journal_lines_total",
		metric.WithDescription("Draft journal lines built, by status."))
	if err != nil {
		return nil, err
	}
	draftDocuments, err := meter.Int64Counter("poolbilling_draft_documents_total",
		metric.WithDescription("Draft invoices and credits aggregated."))
	if err != nil {
		return nil, err
	}
	promotedDocuments, err := meter.Int64Counter("poolbilling_promoted_documents_total",
		metric.WithDescription("Final numbered invoices and credits created by promotion."))
	if err != nil {
		return nil, err
	}
	promotions, err := meter.Int64Counter("poolbilling_promotions_total",
		metric.WithDescription("Pool promotion attempts by outcome."))
	if err != nil {
		return nil, err
	}
	creditAssignments, err := meter.Int64Counter("poolbilling_credit_assignments_total",
		metric.WithDescription("Credit assignments recorded."))
	if err != nil {
		return nil, err
	}
	creditAssignedCent, err := meter.Int64Counter("poolbilling_credit_assigned_cents_total",
		metric.WithDescription("Credit amount assigned, in cents."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		journalLines:       journalLines,
		draftDocuments:     draftDocuments,
		promotedDocuments:  promotedDocuments,
		promotions:         promotions,
		creditAssignments:  creditAssignments,
		creditAssignedCent: creditAssignedCent,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider, used by tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordJournalLines counts built journal lines for a status.
func (m *Metrics) RecordJournalLines(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.journalLines.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDraftDocument counts one aggregated draft document of kind invoice or credit.
func (m *Metrics) RecordDraftDocument(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("document_kind", strings.TrimSpace(kind)))
	m.draftDocuments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPromotedDocuments counts final documents created by a promotion.
func (m *Metrics) RecordPromotedDocuments(ctx context.Context, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("document_kind", strings.TrimSpace(kind)))
	m.promotedDocuments.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPromotion counts a promotion attempt. outcome is "accepted" or a refusal reason.
func (m *Metrics) RecordPromotion(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.promotions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditAssignment counts an assignment and its amount in cents.
func (m *Metrics) RecordCreditAssignment(ctx context.Context, target string, cents int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("target", strings.TrimSpace(target)))...)
	m.creditAssignments.Add(ctx, 1, attrs)
	if cents > 0 {
		m.creditAssignedCent.Add(ctx, cents, attrs)
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":        {},
	"document_kind": {},
	"outcome":       {},
	"target":        {},
	"endpoint":      {},
	"status_code":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
