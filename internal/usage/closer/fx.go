package closer

import (
	"context"

	"github.com/smallbiznis/quota/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.closer",
	fx.Provide(ConfigFrom),
	fx.Provide(provideLocker),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func provideLocker(l *ratelimit.Locker) Locker {
	return l
}

func runWorker(lc fx.Lifecycle, cfg Config, worker *Worker) {
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
