package cli

import (
	"github.com/spf13/cobra"

	"eth-spike-alerts/internal/app"
)

var (
	runOnce     bool
	runNoAlerts bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the chain tip and alert on high-value transaction spikes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{
			Once:     runOnce,
			NoAlerts: runNoAlerts,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit")
	runCmd.Flags().BoolVar(&runNoAlerts, "no-alerts", false, "Update the baseline without sending notifications")
}
