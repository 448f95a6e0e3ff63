package migration

import (
	"strings"

	"github.com/smallbiznis/quota/internal/config"
	"github.com/smallbiznis/quota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run brings the schema up to date for the configured dialect.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	dialect := strings.ToLower(strings.TrimSpace(cfg.DBType))
	if dialect == db.DialectPostgres {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrations applied", zap.String("dialect", dialect))
		return nil
	}

	if !cfg.DBAutoMigrate {
		log.Warn("schema migration skipped", zap.String("dialect", dialect))
		return nil
	}
	if err := AutoMigrate(conn); err != nil {
		return err
	}
	log.Info("schema auto-migrated", zap.String("dialect", dialect))
	return nil
}
