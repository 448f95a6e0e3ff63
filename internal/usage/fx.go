package usage

import (
	"github.com/smallbiznis/quota/internal/usage/closer"
	"github.com/smallbiznis/quota/internal/usage/repository"
	"github.com/smallbiznis/quota/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideReader),
	fx.Provide(service.New),
	closer.Module,
)
