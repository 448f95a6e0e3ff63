package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/config"
	"github.com/smallbiznis/quota/internal/failure"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(provideCounter),
	fx.Provide(provideLimiter),
	fx.Provide(provideLocker),
	fx.Invoke(runSweeper),
)

// NewRedisClient builds the shared Redis client. go-redis dials lazily.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

type counterOut struct {
	fx.Out

	Counter Counter
	Memory  *MemoryCounter
}

func provideCounter(cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) (counterOut, error) {
	switch cfg.RateLimit.Backend {
	case config.CounterBackendMemory:
		log.Warn("rate limit windows are kept in process memory; counts are not shared across instances")
		mem := NewMemoryCounter(clk)
		return counterOut{Counter: mem, Memory: mem}, nil
	case config.CounterBackendRedis, "":
		return counterOut{Counter: NewRedisCounter(client, clk)}, nil
	default:
		return counterOut{}, failure.Configuration("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

type limiterParams struct {
	fx.In

	Config   config.Config
	Counter  Counter
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Profiles *config.RateLimitProfilesHolder
}

func provideLimiter(p limiterParams) (*Limiter, error) {
	policy, err := failure.ParsePolicy(p.Config.RateLimit.FailurePolicy, failure.PolicyFailClosed)
	if err != nil {
		return nil, err
	}
	return NewLimiter(p.Counter, p.Clock, p.Log, p.Metrics, p.Profiles, LimiterConfig{
		KeyPrefix:     p.Config.RateLimit.KeyPrefix,
		FailurePolicy: policy,
	}), nil
}

func provideLocker(client *redis.Client) *Locker {
	return NewLocker(client)
}

type sweeperParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Memory    *MemoryCounter
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.WorkerMetrics `optional:"true"`
}

func runSweeper(p sweeperParams) {
	if p.Memory == nil {
		return
	}
	sweeper := NewSweeper(p.Memory, p.Clock, p.Log, p.Metrics, p.Config.RateLimit.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sweeper.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
