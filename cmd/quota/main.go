package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/config"
	"github.com/smallbiznis/quota/internal/coupon"
	"github.com/smallbiznis/quota/internal/entitlement"
	"github.com/smallbiznis/quota/internal/migration"
	"github.com/smallbiznis/quota/internal/observability"
	"github.com/smallbiznis/quota/internal/ratelimit"
	"github.com/smallbiznis/quota/internal/server"
	"github.com/smallbiznis/quota/internal/usage"
	"github.com/smallbiznis/quota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		ratelimit.Module,
		entitlement.Module,
		usage.Module,
		coupon.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
