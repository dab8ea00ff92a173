package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates postgres on startup. Other dialects (sqlite in tests) are
// created by the gorm models instead.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		log = log.Named("migration")
		if name := conn.Dialector.Name(); name != "postgres" {
			log.Info("skipped", zap.String("dialect", name))
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return Apply(sqlDB, log)
	}),
)
