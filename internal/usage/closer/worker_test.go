package closer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quota/internal/clock"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"github.com/smallbiznis/quota/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type usageMock struct {
	mock.Mock
}

func (m *usageMock) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.BillingPeriod, error) {
	panic("unexpected call")
}

func (m *usageMock) GetCurrentPeriod(ctx context.Context, tenantID string) (*usagedomain.BillingPeriod, error) {
	panic("unexpected call")
}

func (m *usageMock) PercentageOf(ctx context.Context, tenantID string, resource entitlementdomain.ResourceKind) (float64, error) {
	panic("unexpected call")
}

func (m *usageMock) CurrentUsage(ctx context.Context, tenantID string) (*usagedomain.CurrentUsage, error) {
	panic("unexpected call")
}

func (m *usageMock) ListPeriods(ctx context.Context, req usagedomain.ListPeriodsRequest) (*usagedomain.ListPeriodsResponse, error) {
	panic("unexpected call")
}

func (m *usageMock) ClosePeriods(ctx context.Context, req usagedomain.ClosePeriodsRequest) (usagedomain.ClosePeriodsResult, error) {
	args := m.Called(req)
	return args.Get(0).(usagedomain.ClosePeriodsResult), args.Error(1)
}

var testNow = time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T, usage usagedomain.Service, locker Locker) (*Worker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := obsmetrics.NewWorkerMetrics(reg, obsmetrics.Config{})
	w := NewWorker(Params{
		Usage:   usage,
		Clock:   clock.NewFakeClock(testNow),
		Log:     zap.NewNop(),
		Locker:  locker,
		Metrics: metrics,
		Config:  Config{BatchSize: 2, Grace: 72 * time.Hour},
	})
	return w, reg
}

// counterValue sums every series of name whose labels include the given pairs.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	require.Zero(t, len(labels)%2, "labels come in pairs")
	want := make(map[string]string, len(labels)/2)
	for i := 0; i < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, want) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, label := range metric.GetLabel() {
		if value, ok := want[label.GetName()]; ok {
			if value != label.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func newRedisLocker(t *testing.T) (*ratelimit.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewLocker(client), mr
}

func TestRunOnceDrainsBatchesWithGrace(t *testing.T) {
	usage := &usageMock{}
	before := testNow.Add(-72 * time.Hour)
	first := usagedomain.PeriodCursor{PeriodKey: "2025-03", TenantID: "t2"}
	second := usagedomain.PeriodCursor{PeriodKey: "2025-03", TenantID: "t4"}
	// The first batch holds only periods that are not due yet; the run
	// still pages past them.
	usage.On("ClosePeriods", usagedomain.ClosePeriodsRequest{Before: before, Limit: 2}).
		Return(usagedomain.ClosePeriodsResult{Closed: 0, Next: first}, nil).Once()
	usage.On("ClosePeriods", usagedomain.ClosePeriodsRequest{Before: before, Limit: 2, After: first}).
		Return(usagedomain.ClosePeriodsResult{Closed: 2, Next: second}, nil).Once()
	usage.On("ClosePeriods", usagedomain.ClosePeriodsRequest{Before: before, Limit: 2, After: second}).
		Return(usagedomain.ClosePeriodsResult{Closed: 1, Done: true}, nil).Once()

	locker, mr := newRedisLocker(t)
	w, reg := newTestWorker(t, usage, locker)

	closed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, closed)
	assert.False(t, mr.Exists(lockKey), "lock released after run")
	usage.AssertExpectations(t)

	assert.Equal(t, 1.0, counterValue(t, reg, "quota_worker_job_runs_total", "job", obsmetrics.JobClosePeriods))
	assert.Equal(t, 3.0, counterValue(t, reg, "quota_worker_batch_processed_total", "job", obsmetrics.JobClosePeriods))
	assert.Zero(t, counterValue(t, reg, "quota_worker_job_runs_total", "job", obsmetrics.JobSweepWindows))
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	usage := &usageMock{}
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set(lockKey, "other-instance"))

	w, reg := newTestWorker(t, usage, locker)
	closed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	usage.AssertNotCalled(t, "ClosePeriods", mock.Anything)
	assert.Equal(t, 1.0, counterValue(t, reg, "quota_worker_lock_skipped_total"))
}

func TestRunOnceReportsErrors(t *testing.T) {
	usage := &usageMock{}
	boom := errors.New("boom")
	usage.On("ClosePeriods", mock.Anything).
		Return(usagedomain.ClosePeriodsResult{Closed: 1, Next: usagedomain.PeriodCursor{PeriodKey: "2025-03", TenantID: "t1"}}, nil).Once()
	usage.On("ClosePeriods", mock.Anything).Return(usagedomain.ClosePeriodsResult{}, boom).Once()

	w, reg := newTestWorker(t, usage, nil)
	closed, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1.0, counterValue(t, reg, "quota_worker_job_errors_total", "reason", obsmetrics.JobReasonUnknown))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RunTimeout: 10 * time.Minute}.withDefaults()
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, time.Hour, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)
}
