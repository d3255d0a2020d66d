package app

import (
	"context"
	"fmt"
	"os"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/service"
)

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	Count    uint64
	EndBlock uint64
	Force    bool
}

// SimulateAlert 用给定的计数评估当前基线，必要时发送告警，不修改状态。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	sess, err := a.openSession(ctx, sessionOptions{notifier: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := sess.monitor.Simulate(ctx, service.SimulateOptions{
		Count:    opts.Count,
		EndBlock: opts.EndBlock,
		Force:    opts.Force,
	})

	fmt.Fprintln(os.Stdout, alerting.RenderPlain(res.Alert))
	fmt.Fprintf(os.Stdout, "\nalert: %t  would_emit: %t  sent: %t\n", res.Decision.IsAlert, res.WouldEmit, res.Sent)
	return err
}
