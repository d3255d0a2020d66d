package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: spikewatch\n"))
	require.NoError(t, err)

	require.Equal(t, uint64(20), cfg.Detector.WindowBlocks)
	require.Equal(t, 0.1, cfg.Detector.Alpha)
	require.Equal(t, 3.0, cfg.Detector.ZThreshold)
	require.Equal(t, 2.0, cfg.Detector.RatioThreshold)
	require.Equal(t, uint64(20), cfg.Detector.MinCount)
	require.True(t, cfg.Detector.ValueThreshold.Equal(decimal.NewFromInt(10)))
	require.Equal(t, int32(18), cfg.Detector.ValueDecimals)
	require.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	require.Equal(t, "etherscan", cfg.Chain.Provider)
	require.Equal(t, "file", cfg.State.Backend)
	require.Equal(t, []string{"telegram"}, cfg.Alerting.Channels)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
detector:
  window_blocks: 50
  value_threshold: "0.5"
chain:
  provider: rpc
  rpc:
    url: http://localhost:8545
alerting:
  channels: [log, kafka]
  kafka:
    brokers: [localhost:9092]
`)
	t.Setenv("SPIKEWATCH_DETECTOR_ALPHA", "0.25")
	t.Setenv("SPIKEWATCH_SCHEDULER_INTERVAL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(50), cfg.Detector.WindowBlocks)
	require.Equal(t, 0.25, cfg.Detector.Alpha)
	require.True(t, cfg.Detector.ValueThreshold.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	require.Equal(t, []string{"log", "kafka"}, cfg.Alerting.Channels)
	require.NoError(t, cfg.ValidateSource())
	require.NoError(t, cfg.ValidateAlerting())
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "legacy-key")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("WINDOW_BLOCKS", "10")
	t.Setenv("MIN_COUNT", "5")
	t.Setenv("VALUE_ETH_THRESHOLD", "100")
	t.Setenv("POLL_SECONDS", "12")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Equal(t, "legacy-key", cfg.Chain.Etherscan.APIKey)
	require.Equal(t, "bot", cfg.Alerting.Telegram.BotToken)
	require.Equal(t, "42", cfg.Alerting.Telegram.ChatID)
	require.Equal(t, uint64(10), cfg.Detector.WindowBlocks)
	require.Equal(t, uint64(5), cfg.Detector.MinCount)
	require.True(t, cfg.Detector.ValueThreshold.Equal(decimal.NewFromInt(100)))
	require.Equal(t, 12*time.Second, cfg.Scheduler.Interval)
	require.NoError(t, cfg.ValidateSource())
	require.NoError(t, cfg.ValidateAlerting())
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("WINDOW_BLOCKS", "10")
	t.Setenv("SPIKEWATCH_DETECTOR_WINDOW_BLOCKS", "30")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Equal(t, uint64(30), cfg.Detector.WindowBlocks)
}

func TestValidateRejectsBadKnobs(t *testing.T) {
	cases := map[string]string{
		"alpha zero":      "detector:\n  alpha: 0\n",
		"alpha above one": "detector:\n  alpha: 1.5\n",
		"window zero":     "detector:\n  window_blocks: 0\n",
		"ratio zero":      "detector:\n  ratio_threshold: 0\n",
		"negative z":      "detector:\n  z_threshold: -1\n",
		"bad provider":    "chain:\n  provider: infura\n",
		"bad backend":     "state:\n  backend: redis\n",
		"bad channel":     "alerting:\n  channels: [pager]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Error(t, cfg.ValidateSource(), "etherscan 需要 api_key")
	require.Error(t, cfg.ValidateAlerting(), "telegram 需要 token")

	cfg.Alerting.Enabled = false
	require.NoError(t, cfg.ValidateAlerting())
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	require.Equal(t, 10, cfg.ResolveMaxPoints(0))
	require.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
