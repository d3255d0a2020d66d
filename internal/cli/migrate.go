package cli

import (
	"github.com/spf13/cobra"

	"eth-spike-alerts/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the history database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(storage.MigrateUp)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(storage.MigrateDown)
	},
}

var migrateForceVersion int

var migrateForceCmd = &cobra.Command{
	Use:   "force",
	Short: "Set the schema version without running migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().MigrateForce(migrateForceVersion)
	},
}

func init() {
	migrateForceCmd.Flags().IntVar(&migrateForceVersion, "version", 0, "Schema version to force")
	_ = migrateForceCmd.MarkFlagRequired("version")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateForceCmd)
}
