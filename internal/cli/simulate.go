package cli

import (
	"github.com/spf13/cobra"

	"eth-spike-alerts/internal/app"
)

var (
	simulateCount    uint64
	simulateEndBlock uint64
	simulateForce    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用假设的高额交易数评估当前基线并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Count:    simulateCount,
			EndBlock: simulateEndBlock,
			Force:    simulateForce,
		})
	},
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateCount, "count", 0, "窗口内高额交易数")
	simulateCmd.Flags().Uint64Var(&simulateEndBlock, "end-block", 0, "窗口结束区块 (默认取链上最新高度)")
	simulateCmd.Flags().BoolVar(&simulateForce, "force", false, "即使未触发也发送告警")
	_ = simulateCmd.MarkFlagRequired("count")
}
