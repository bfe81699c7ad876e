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

// Metrics exposes credit-domain instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	creditDecisions metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	payments        metric.Int64Counter
	cancellations   metric.Int64Counter
	syncFailures    metric.Int64Counter
	syncDropped     metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tradecredit"
	}
	meter := provider.Meter(name)

	creditDecisions, err := meter.Int64Counter("tradecredit_credit_decisions_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("tradecredit_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("tradecredit_payments_total")
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("tradecredit_order_cancellations_total")
	if err != nil {
		return nil, err
	}
	syncFailures, err := meter.Int64Counter("tradecredit_sync_failures_total")
	if err != nil {
		return nil, err
	}
	syncDropped, err := meter.Int64Counter("tradecredit_sync_dropped_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditDecisions: creditDecisions,
		ledgerEntries:   ledgerEntries,
		payments:        payments,
		cancellations:   cancellations,
		syncFailures:    syncFailures,
		syncDropped:     syncDropped,
	}, nil
}

// RecordCreditDecision counts admission outcomes. limitingFactor is empty
// for admitted requests.
func (m *Metrics) RecordCreditDecision(ctx context.Context, admitted bool, limitingFactor string) {
	if m == nil {
		return
	}
	outcome := "admit"
	if !admitted {
		outcome = "deny"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("limiting_factor", strings.TrimSpace(limitingFactor)),
	)
	m.creditDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry counts ledger rows written, by transaction type.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, transactionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(transactionType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment counts received payments by method and resulting status.
func (m *Metrics) RecordPayment(ctx context.Context, method, paymentStatus string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.String("payment_status", strings.TrimSpace(paymentStatus)),
	)
	m.payments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCancellation counts order cancellations.
func (m *Metrics) RecordCancellation(ctx context.Context, creditRestored bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Bool("credit_restored", creditRestored))
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncFailure counts failed deliveries to a sync sink.
func (m *Metrics) RecordSyncFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("sink", strings.TrimSpace(sink)))
	m.syncFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncDropped counts credit events dropped before delivery.
func (m *Metrics) RecordSyncDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.syncDropped.Add(ctx, 1)
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

// Company and shop identifiers are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":          {},
	"limiting_factor":  {},
	"transaction_type": {},
	"method":           {},
	"payment_status":   {},
	"credit_restored":  {},
	"sink":             {},
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
