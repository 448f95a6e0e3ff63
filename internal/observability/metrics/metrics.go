package metrics

import (
	"context"
	"fmt"
	"strconv"
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

// Metrics exposes quota engine instruments. A nil *Metrics records nothing.
type Metrics struct {
	rateLimitDecisions metric.Int64Counter
	usageRecorded      metric.Int64Counter
	usageOverage       metric.Int64Counter
	allowanceChecks    metric.Int64Counter
	couponValidations  metric.Int64Counter
	couponRedemptions  metric.Int64Counter
	providerDuration   metric.Float64Histogram
	planChanges        metric.Int64Counter
	storeFailures      metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "quota"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.rateLimitDecisions, err = meter.Int64Counter("quota_rate_limit_decisions_total",
		metric.WithDescription("Rate limit decisions by profile and outcome.")); err != nil {
		return nil, err
	}
	if m.usageRecorded, err = meter.Int64Counter("quota_usage_recorded_units_total",
		metric.WithDescription("Usage units recorded against billing periods.")); err != nil {
		return nil, err
	}
	if m.usageOverage, err = meter.Int64Counter("quota_usage_overage_units_total",
		metric.WithDescription("Usage units recorded beyond the plan allowance.")); err != nil {
		return nil, err
	}
	if m.allowanceChecks, err = meter.Int64Counter("quota_allowance_checks_total"); err != nil {
		return nil, err
	}
	if m.couponValidations, err = meter.Int64Counter("quota_coupon_validations_total"); err != nil {
		return nil, err
	}
	if m.couponRedemptions, err = meter.Int64Counter("quota_coupon_redemptions_total"); err != nil {
		return nil, err
	}
	if m.providerDuration, err = meter.Float64Histogram("quota_coupon_provider_duration_seconds",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.planChanges, err = meter.Int64Counter("quota_plan_changes_total"); err != nil {
		return nil, err
	}
	if m.storeFailures, err = meter.Int64Counter("quota_store_failures_total",
		metric.WithDescription("Backing store failures by component and applied policy.")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordRateLimitDecision(ctx context.Context, profile string, allowed, degraded bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	attrs := FilterAttributes(
		attribute.String("profile", strings.TrimSpace(profile)),
		attribute.String("outcome", outcome),
		attribute.String("degraded", strconv.FormatBool(degraded)),
	)
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUsage(ctx context.Context, resource string, quantity, overage int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("resource", resource))...)
	m.usageRecorded.Add(ctx, quantity, attrs)
	if overage > 0 {
		m.usageOverage.Add(ctx, overage, attrs)
	}
}

func (m *Metrics) RecordAllowanceCheck(ctx context.Context, resource, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource", resource),
		attribute.String("outcome", outcome),
	)
	m.allowanceChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCouponValidation counts validations; reason is empty for valid coupons.
func (m *Metrics) RecordCouponValidation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	outcome := "valid"
	if reason != "" {
		outcome = "invalid"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)
	m.couponValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCouponRedemption(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", outcome))
	m.couponRedemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) ObserveProviderCheck(ctx context.Context, provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.providerDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPlanChange(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("direction", direction))
	m.planChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStoreFailure counts backend failures; policy is the failure policy applied, if any.
func (m *Metrics) RecordStoreFailure(ctx context.Context, component, policy string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("component", component),
		attribute.String("policy", policy),
	)
	m.storeFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// Tenant and caller ids are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"profile":   {},
	"outcome":   {},
	"degraded":  {},
	"resource":  {},
	"reason":    {},
	"direction": {},
	"component": {},
	"policy":    {},
	"provider":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING && attr.Value.AsString() == "" {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
