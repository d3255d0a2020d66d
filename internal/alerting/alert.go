package alerting

import (
	"context"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"eth-spike-alerts/internal/detector"
)

// Alert 封装一次告警的全部上下文。
type Alert struct {
	Time      time.Time
	Window    detector.Window
	Count     uint64
	Mean      float64
	Std       float64
	Ratio     float64
	Z         float64
	Threshold decimal.Decimal
	Asset     string
	Network   string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// SinkError is a delivery failure reported by the remote endpoint.
type SinkError struct {
	Channel    string
	StatusCode int
	Body       string
}

func (e *SinkError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Channel, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Channel, e.StatusCode, e.Body)
}

// Render formats the alert as Telegram HTML.
func Render(a Alert) string {
	return render(a, true)
}

// RenderPlain formats the alert without markup.
func RenderPlain(a Alert) string {
	return render(a, false)
}

func render(a Alert, markup bool) string {
	bold := func(s string) string {
		if markup {
			return "<b>" + s + "</b>"
		}
		return s
	}
	esc := func(s string) string {
		if markup {
			return html.EscapeString(s)
		}
		return s
	}

	asset := a.Asset
	if asset == "" {
		asset = "ETH"
	}
	network := a.Network
	if network == "" {
		network = "Ethereum"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚨 %s\n", bold(esc("High-value transaction spike on "+network))))
	b.WriteString(fmt.Sprintf("Time: %s\n", a.Time.UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("Window: blocks [%d…%d] (n=%d)\n", a.Window.Start, a.Window.End, a.Window.Len()))
	b.WriteString(fmt.Sprintf("Tx threshold: %s %s %s\n", esc("≥"), a.Threshold.String(), esc(asset)))
	b.WriteString(fmt.Sprintf("Current count: %s\n", bold(fmt.Sprintf("%d", a.Count))))
	b.WriteString(fmt.Sprintf("Baseline (EMA mean): %s | std≈ %s\n", formatFloat(a.Mean), formatFloat(a.Std)))
	b.WriteString(fmt.Sprintf("Ratio to baseline: %s× | z≈ %s\n", formatFloat(a.Ratio), formatFloat(a.Z)))
	b.WriteString(fmt.Sprintf("#%s #onchain #alerts", esc(asset)))
	return b.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	case math.IsNaN(v):
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
