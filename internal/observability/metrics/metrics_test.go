package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("profile", "api"),
		attribute.String("tenant_id", "t-1"),
		attribute.String("caller_id", "c-1"),
		attribute.String("resource", "signatures"),
		attribute.String("reason", ""),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "profile" || attrs[1].Key != "resource" {
		t.Fatalf("unexpected attributes retained: %v", attrs)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRateLimitDecision(context.Background(), "api", true, false)
	m.RecordUsage(context.Background(), "storage", 1, 0)
	m.RecordStoreFailure(context.Background(), "ratelimit", "fail_closed")
}

func TestRecordUsageCountsOverageSeparately(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "quota-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUsage(ctx, "signatures", 5, 0)
	m.RecordUsage(ctx, "signatures", 3, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(8), totals["quota_usage_recorded_units_total"])
	assert.Equal(t, int64(2), totals["quota_usage_overage_units_total"])
}
