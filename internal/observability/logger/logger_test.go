package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/quota/internal/observability/context"
	"github.com/smallbiznis/quota/pkg/telemetry/correlation"
	"github.com/smallbiznis/quota/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")
	ctx = tenantctx.WithTenantID(ctx, "tenant-a")
	ctx = tenantctx.WithCallerID(ctx, "caller-9")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "corr-1", fields["correlation_id"])
		assert.Equal(t, "tenant-a", fields["tenant_id"])
		assert.Equal(t, "caller-9", fields["caller_id"])
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestWithContextSkipsEmptyFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	WithContext(context.Background(), zap.New(core)).Info("bare")

	assert.Empty(t, logs.All()[0].Context)
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`SELECT * FROM "coupons" WHERE code = ?`, "SELECT", "coupons"},
		{`INSERT INTO billing_period_usages (tenant_id) VALUES (?)`, "INSERT", "billing_period_usages"},
		{`UPDATE subscriptions SET version = version + 1`, "UPDATE", "subscriptions"},
		{`DELETE FROM plan_allowances WHERE plan_id = ?`, "DELETE", "plan_allowances"},
		{``, "UNKNOWN", "unknown"},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}
