package cli

import (
	"github.com/spf13/cobra"
)

var resetKeepCursor bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the persisted baseline",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted state record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowState(cmd.Context())
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the persisted baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetState(cmd.Context(), resetKeepCursor)
	},
}

func init() {
	stateResetCmd.Flags().BoolVar(&resetKeepCursor, "keep-cursor", false, "Keep the dedup cursor")
	stateCmd.AddCommand(stateShowCmd, stateResetCmd)
}
