package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/quota/internal/clock"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"go.uber.org/zap"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper periodically evicts finished windows from a MemoryCounter.
type Sweeper struct {
	counter  *MemoryCounter
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.WorkerMetrics
	interval time.Duration
}

func NewSweeper(counter *MemoryCounter, clk clock.Clock, log *zap.Logger, metrics *obsmetrics.WorkerMetrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		counter:  counter,
		clock:    clk,
		log:      log.Named("ratelimit.sweeper"),
		metrics:  metrics,
		interval: interval,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

func (s *Sweeper) RunOnce() int {
	start := time.Now()
	s.metrics.IncJobRun(obsmetrics.JobSweepWindows)

	removed := s.counter.Sweep(s.clock.Now())

	s.metrics.ObserveJobDuration(obsmetrics.JobSweepWindows, time.Since(start))
	s.metrics.AddBatchProcessed(obsmetrics.JobSweepWindows, "windows", removed)
	if removed > 0 {
		s.log.Debug("expired windows swept", zap.Int("removed", removed), zap.Int("remaining", s.counter.Len()))
	}
	return removed
}
