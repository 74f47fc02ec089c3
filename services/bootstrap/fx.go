package bootstrap

import (
	"context"

	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/sequence"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/certificate"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/seat"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema once the database is up, before any server
// starts accepting traffic.
var Module = fx.Module("bootstrap",
	fx.Invoke(runBootstrap),
)

// Models lists every table the licensing server owns.
func Models() []any {
	return []any{
		&license.License{},
		&seat.Seat{},
		&certificate.Certificate{},
		&sequence.Counter{},
		&audit.Event{},
	}
}

func Migrate(gdb *gorm.DB) error {
	if err := db.Migrate(gdb, Models()...); err != nil {
		return err
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(Models())))
	return nil
}

func runBootstrap(lc fx.Lifecycle, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Migrate(gdb.WithContext(ctx))
		},
	})
}
