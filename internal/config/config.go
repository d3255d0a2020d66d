package config

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"eth-spike-alerts/internal/logging"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SPIKEWATCH"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	State     StateConfig     `mapstructure:"state"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL history store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig covers block data access.
type ChainConfig struct {
	Provider       string          `mapstructure:"provider"`
	Network        string          `mapstructure:"network"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	Concurrency    int             `mapstructure:"concurrency"`
	RPC            RPCConfig       `mapstructure:"rpc"`
	Etherscan      EtherscanConfig `mapstructure:"etherscan"`
	Retry          RetryConfig     `mapstructure:"retry"`
}

// RPCConfig is a direct JSON-RPC endpoint.
type RPCConfig struct {
	URL string `mapstructure:"url"`
}

// EtherscanConfig is the Etherscan proxy API.
type EtherscanConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	ChainID           int64   `mapstructure:"chain_id"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// RetryConfig bounds retries of data source calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// DetectorConfig holds the spike detection knobs.
type DetectorConfig struct {
	WindowBlocks   uint64          `mapstructure:"window_blocks"`
	Alpha          float64         `mapstructure:"alpha"`
	ZThreshold     float64         `mapstructure:"z_threshold"`
	RatioThreshold float64         `mapstructure:"ratio_threshold"`
	MinCount       uint64          `mapstructure:"min_count"`
	ValueThreshold decimal.Decimal `mapstructure:"value_threshold"`
	ValueDecimals  int32           `mapstructure:"value_decimals"`
	Asset          string          `mapstructure:"asset"`
}

// StateConfig selects where the baseline and dedup cursor live.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Channels    []string       `mapstructure:"channels"`
	SendTimeout time.Duration  `mapstructure:"send_timeout"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Discord     DiscordConfig  `mapstructure:"discord"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig lists webhook targets.
type DiscordConfig struct {
	WebhookURLs []string `mapstructure:"webhook_urls"`
}

// KafkaConfig describes the alert topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig enables the ops HTTP server when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps keys to the variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"chain.etherscan.api_key":     "ETHERSCAN_API_KEY",
	"alerting.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"alerting.telegram.chat_id":   "TELEGRAM_CHAT_ID",
	"detector.window_blocks":      "WINDOW_BLOCKS",
	"detector.alpha":              "BASELINE_EMA_ALPHA",
	"detector.z_threshold":        "ZSCORE_THRESHOLD",
	"detector.ratio_threshold":    "RATIO_THRESHOLD",
	"detector.min_count":          "MIN_COUNT",
	"detector.value_threshold":    "VALUE_ETH_THRESHOLD",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	// POLL_SECONDS is a bare integer; the prefixed variable wins.
	if raw := strings.TrimSpace(os.Getenv("POLL_SECONDS")); raw != "" && os.Getenv(EnvPrefix+"_SCHEDULER_INTERVAL") == "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_SECONDS %q: %w", raw, err)
		}
		v.Set("scheduler.interval", time.Duration(secs*float64(time.Second)).String())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spikewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("scheduler.interval", "15s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53504b57))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("chain.provider", "etherscan")
	v.SetDefault("chain.network", "Ethereum")
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.concurrency", 4)
	v.SetDefault("chain.rpc.url", "")
	v.SetDefault("chain.etherscan.base_url", "https://api.etherscan.io/v2/api")
	v.SetDefault("chain.etherscan.api_key", "")
	v.SetDefault("chain.etherscan.chain_id", 1)
	v.SetDefault("chain.etherscan.requests_per_second", 4.0)
	v.SetDefault("chain.etherscan.user_agent", "")
	v.SetDefault("chain.retry.max_attempts", 3)
	v.SetDefault("chain.retry.base_delay", "500ms")
	v.SetDefault("chain.retry.max_delay", "5s")
	v.SetDefault("chain.retry.jitter", "250ms")

	v.SetDefault("detector.window_blocks", 20)
	v.SetDefault("detector.alpha", 0.1)
	v.SetDefault("detector.z_threshold", 3.0)
	v.SetDefault("detector.ratio_threshold", 2.0)
	v.SetDefault("detector.min_count", 20)
	v.SetDefault("detector.value_threshold", "10")
	v.SetDefault("detector.value_decimals", 18)
	v.SetDefault("detector.asset", "ETH")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.path", "state.json")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.send_timeout", "20s")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.webhook_urls", []string{})
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "spikewatch.alerts")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromUint64(v), nil
		}
		return data, nil
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}

	d := c.Detector
	if d.WindowBlocks == 0 {
		return fmt.Errorf("detector.window_blocks must be greater than zero")
	}
	if math.IsNaN(d.Alpha) || d.Alpha <= 0 || d.Alpha > 1 {
		return fmt.Errorf("detector.alpha must be in (0, 1]")
	}
	if math.IsNaN(d.ZThreshold) || d.ZThreshold < 0 {
		return fmt.Errorf("detector.z_threshold cannot be negative")
	}
	if math.IsNaN(d.RatioThreshold) || d.RatioThreshold <= 0 {
		return fmt.Errorf("detector.ratio_threshold must be greater than zero")
	}
	if d.ValueThreshold.IsNegative() {
		return fmt.Errorf("detector.value_threshold cannot be negative")
	}
	if d.ValueDecimals < 0 {
		return fmt.Errorf("detector.value_decimals cannot be negative")
	}

	switch strings.ToLower(c.Chain.Provider) {
	case "rpc", "etherscan":
	default:
		return fmt.Errorf("chain.provider must be rpc or etherscan, got %q", c.Chain.Provider)
	}
	if c.Chain.Concurrency <= 0 {
		return fmt.Errorf("chain.concurrency must be greater than zero")
	}

	switch strings.ToLower(c.State.Backend) {
	case "file", "badger":
	default:
		return fmt.Errorf("state.backend must be file or badger, got %q", c.State.Backend)
	}

	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "telegram", "discord", "kafka", "log", "":
		default:
			return fmt.Errorf("unknown alerting channel %q", ch)
		}
	}
	return nil
}

// ValidateSource checks provider credentials. Only commands that read the
// chain call it, so state and history commands work without a key.
func (c *Config) ValidateSource() error {
	switch strings.ToLower(c.Chain.Provider) {
	case "rpc":
		if c.Chain.RPC.URL == "" {
			return fmt.Errorf("chain.rpc.url 必须配置")
		}
	case "etherscan":
		if c.Chain.Etherscan.APIKey == "" {
			return fmt.Errorf("chain.etherscan.api_key 必须配置 (或 ETHERSCAN_API_KEY)")
		}
	}
	return nil
}

// ValidateAlerting checks credentials of every enabled channel.
func (c *Config) ValidateAlerting() error {
	if !c.Alerting.Enabled {
		return nil
	}
	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "telegram":
			if c.Alerting.Telegram.BotToken == "" {
				return fmt.Errorf("alerting.telegram.bot_token 必须配置")
			}
			if c.Alerting.Telegram.ChatID == "" {
				return fmt.Errorf("alerting.telegram.chat_id 必须配置")
			}
		case "discord":
			if len(c.Alerting.Discord.WebhookURLs) == 0 {
				return fmt.Errorf("alerting.discord.webhook_urls 必须配置")
			}
		case "kafka":
			if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
				return fmt.Errorf("alerting.kafka.brokers 与 topic 必须配置")
			}
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
