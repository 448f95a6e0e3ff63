package closer

import (
	"context"
	"time"

	"github.com/smallbiznis/quota/internal/clock"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKey = "quota:jobs:close_periods"

// Locker serializes closer runs across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Params struct {
	fx.In

	Usage   usagedomain.Service
	Clock   clock.Clock
	Log     *zap.Logger
	Locker  Locker                    `optional:"true"`
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
	Config  Config
}

// Worker closes billing periods once their month plus the grace window has
// passed, so late usage events can still land in the right period.
type Worker struct {
	usage   usagedomain.Service
	clock   clock.Clock
	log     *zap.Logger
	locker  Locker
	metrics *obsmetrics.WorkerMetrics
	cfg     Config
}

func NewWorker(p Params) *Worker {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Worker{
		usage:   p.Usage,
		clock:   clk,
		log:     p.Log.Named("usage.closer"),
		locker:  p.Locker,
		metrics: p.Metrics,
		cfg:     p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("billing period close run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce closes every eligible period, batch by batch, under the shared lock.
// It returns the number of periods closed; a run skipped because another
// instance holds the lock returns 0 and no error.
func (w *Worker) RunOnce(parentCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	w.metrics.IncJobRun(obsmetrics.JobClosePeriods)
	defer func() {
		w.metrics.ObserveJobDuration(obsmetrics.JobClosePeriods, time.Since(start))
	}()

	closed := 0
	run := func(ctx context.Context) error {
		n, err := w.closeAll(ctx)
		closed = n
		return err
	}

	if w.locker == nil {
		err := run(ctx)
		return closed, w.fail(err)
	}

	acquired, err := w.locker.WithLock(ctx, lockKey, w.cfg.LockTTL, run)
	if err != nil {
		return closed, w.fail(err)
	}
	if !acquired {
		w.metrics.IncLockSkipped(obsmetrics.JobClosePeriods)
		w.log.Debug("billing period close skipped, lock held elsewhere")
	}
	return closed, nil
}

func (w *Worker) closeAll(ctx context.Context) (int, error) {
	before := w.clock.Now().Add(-w.cfg.Grace)
	req := usagedomain.ClosePeriodsRequest{Before: before, Limit: w.cfg.BatchSize}
	total := 0
	for {
		res, err := w.usage.ClosePeriods(ctx, req)
		total += res.Closed
		w.metrics.AddBatchProcessed(obsmetrics.JobClosePeriods, "billing_periods", res.Closed)
		if err != nil {
			return total, err
		}
		if res.Done {
			break
		}
		req.After = res.Next
	}
	if total > 0 {
		w.log.Info("billing periods closed", zap.Int("count", total), zap.Time("before", before))
	}
	return total, nil
}

func (w *Worker) fail(err error) error {
	if err != nil {
		w.metrics.IncJobError(obsmetrics.JobClosePeriods, err)
	}
	return err
}
