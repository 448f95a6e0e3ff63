package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/quota/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrationsCoverModelTables(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init.up.sql")
	require.NoError(t, err)

	conn := openSQLite(t)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table+" ")
	}
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn := openSQLite(t)
	cfg := config.Config{DBType: "sqlite", DBAutoMigrate: true}

	require.NoError(t, Run(conn, cfg, zap.NewNop()))
	for _, table := range []string{"plans", "subscriptions", "billing_periods", "coupon_redemptions"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestRunSkipsWhenAutoMigrateDisabled(t *testing.T) {
	conn := openSQLite(t)
	cfg := config.Config{DBType: "sqlite", DBAutoMigrate: false}

	require.NoError(t, Run(conn, cfg, zap.NewNop()))
	assert.False(t, conn.Migrator().HasTable("plans"))
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
