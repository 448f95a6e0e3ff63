package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/quota/internal/failure"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "store_unavailable", err: failure.StoreUnavailable("close", errors.New("dial")), want: JobReasonStoreUnavailable},
		{name: "configuration", err: fmt.Errorf("wrap: %w", failure.ErrConfiguration), want: JobReasonConfiguration},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWorkerMetrics(registry, Config{ServiceName: "quota", Environment: "test"})

	m.AddBatchProcessed(JobClosePeriods, "billing_periods", 3)
	m.AddBatchProcessed(JobClosePeriods, "billing_periods", 0)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues(JobClosePeriods, "billing_periods"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestWorkerMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewWorkerMetrics(registry, Config{Environment: "test"})
	second := NewWorkerMetrics(registry, Config{Environment: "test"})

	first.IncJobRun(JobSweepWindows)
	second.IncJobRun(JobSweepWindows)

	if got := testutil.ToFloat64(first.jobRuns.WithLabelValues(JobSweepWindows)); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}
