package migration

import (
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations against the configured database.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		log.Warn("skipping migrations for non-postgres database", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
