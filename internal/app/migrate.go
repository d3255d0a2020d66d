package app

import (
	"errors"
	"time"

	"eth-spike-alerts/internal/storage"
)

// Migrate applies schema migrations to the history database.
func (a *App) Migrate(direction storage.MigrateDirection) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	if err := storage.Migrate(a.Config.Database.DSN, direction); err != nil {
		return err
	}
	a.Logger.Info().Str("direction", string(direction)).Msg("migration complete")
	return nil
}

// MigrateForce pins the schema version after a failed migration.
func (a *App) MigrateForce(version int) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	return storage.MigrateForce(a.Config.Database.DSN, version)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
