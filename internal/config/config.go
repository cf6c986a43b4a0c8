package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey         = "DELTA_API_KEY"
	EnvAPISecret      = "DELTA_API_SECRET"
	EnvBaseURL        = "DELTA_BASE_URL"
	EnvProductID      = "DELTA_PRODUCT_ID"
	EnvSymbol         = "DELTA_SYMBOL"
	EnvTelegramToken  = "DELTA_TELEGRAM_TOKEN"
	EnvTelegramChatID = "DELTA_TELEGRAM_CHAT_ID"
	EnvTimescaleDSN   = "DELTA_TIMESCALE_DSN"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	Stream    StreamConfig    `yaml:"stream"`
	Delta     DeltaConfig     `yaml:"delta"`
	Bot       BotConfig       `yaml:"bot"`
	Grid      GridConfig      `yaml:"grid"`
	Settle    SettleConfig    `yaml:"settle"`
	Retry     RetryConfig     `yaml:"retry"`
	DeadZone  DeadZoneConfig  `yaml:"deadzone"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level           string `yaml:"level"`
	TransactionFile string `yaml:"transaction_file"`
	MaxSizeMB       int    `yaml:"max_size_mb"`
	MaxBackups      int    `yaml:"max_backups"`
	MaxAgeDays      int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig enables the positions websocket. Each position event
// triggers an extra poll; the ticker keeps running either way.
type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// DeltaConfig identifies the traded product. Credentials are read from the
// environment only.
type DeltaConfig struct {
	ProductID int64  `yaml:"product_id"`
	Symbol    string `yaml:"symbol"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type BotConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	SerializeCycles bool          `yaml:"serialize_cycles"`
}

type GridConfig struct {
	SerializeLegs bool `yaml:"serialize_legs"`
	LegRetries    int  `yaml:"leg_retries"`
}

type SettleConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type RetryConfig struct {
	Backoff time.Duration `yaml:"backoff"`
}

type DeadZoneConfig struct {
	Enabled      bool  `yaml:"enabled"`
	PreserveSize int64 `yaml:"preserve_size"`
	Offset       int64 `yaml:"offset"`
	Leverage     int   `yaml:"leverage"`
	Retries      *int  `yaml:"retries"`
}

type StateConfig struct {
	SQLitePath     string `yaml:"sqlite_path"`
	RestoreOnStart bool   `yaml:"restore_on_start"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	QueueSize int    `yaml:"queue_size"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnvOverrides(cfg *Config) error {
	cfg.Delta.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	cfg.Delta.APISecret = strings.TrimSpace(os.Getenv(EnvAPISecret))
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.REST.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvProductID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProductID, err)
		}
		cfg.Delta.ProductID = id
	}
	if v := strings.TrimSpace(os.Getenv(EnvSymbol)); v != "" {
		cfg.Delta.Symbol = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramChatID)); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimescaleDSN)); v != "" {
		cfg.Timescale.DSN = v
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.TransactionFile == "" {
		cfg.Log.TransactionFile = "logs/transactions.log"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.india.delta.exchange"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.Stream.URL == "" {
		cfg.Stream.URL = "wss://socket.india.delta.exchange"
	}
	if cfg.Stream.ReconnectDelay == 0 {
		cfg.Stream.ReconnectDelay = 5 * time.Second
	}
	if cfg.Stream.PingInterval == 0 {
		cfg.Stream.PingInterval = 30 * time.Second
	}
	if cfg.Delta.ProductID == 0 {
		cfg.Delta.ProductID = 27
	}
	if cfg.Delta.Symbol == "" {
		cfg.Delta.Symbol = "BTCUSD"
	}
	if cfg.Bot.PollInterval == 0 {
		cfg.Bot.PollInterval = 5 * time.Second
	}
	if cfg.Settle.PollInterval == 0 {
		cfg.Settle.PollInterval = 500 * time.Millisecond
	}
	if cfg.Settle.MaxAttempts == 0 {
		cfg.Settle.MaxAttempts = 12
	}
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = time.Second
	}
	if cfg.DeadZone.PreserveSize == 0 {
		cfg.DeadZone.PreserveSize = 2
	}
	if cfg.DeadZone.Offset == 0 {
		cfg.DeadZone.Offset = 1250
	}
	if cfg.DeadZone.Leverage == 0 {
		cfg.DeadZone.Leverage = 10
	}
	if cfg.DeadZone.Retries == nil {
		retries := 4
		cfg.DeadZone.Retries = &retries
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/delta-grid-bot.db"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Delta.ProductID <= 0 {
		return errors.New("delta.product_id must be > 0")
	}
	if strings.TrimSpace(cfg.Delta.Symbol) == "" {
		return errors.New("delta.symbol is required")
	}
	if cfg.Delta.APIKey == "" || cfg.Delta.APISecret == "" {
		return fmt.Errorf("%s and %s are required", EnvAPIKey, EnvAPISecret)
	}
	if cfg.REST.Timeout < 0 {
		return errors.New("rest.timeout must be >= 0")
	}
	if cfg.Stream.Enabled && !strings.HasPrefix(cfg.Stream.URL, "ws") {
		return errors.New("stream.url must be a ws:// or wss:// url")
	}
	if cfg.Stream.ReconnectDelay < 0 || cfg.Stream.PingInterval < 0 {
		return errors.New("stream.reconnect_delay and stream.ping_interval must be >= 0")
	}
	if cfg.Bot.PollInterval < 0 {
		return errors.New("bot.poll_interval must be > 0")
	}
	if cfg.Settle.PollInterval < 0 || cfg.Settle.MaxAttempts < 0 {
		return errors.New("settle.poll_interval and settle.max_attempts must be > 0")
	}
	if cfg.Retry.Backoff < 0 {
		return errors.New("retry.backoff must be >= 0")
	}
	if cfg.Grid.LegRetries < 0 {
		return errors.New("grid.leg_retries must be >= 0")
	}
	if *cfg.DeadZone.Retries < 0 {
		return errors.New("deadzone.retries must be >= 0")
	}
	if cfg.DeadZone.PreserveSize < 0 || cfg.DeadZone.Offset < 0 || cfg.DeadZone.Leverage < 0 {
		return errors.New("deadzone.preserve_size, offset and leverage must be > 0")
	}
	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Timescale.QueueSize < 0 {
		return errors.New("timescale.queue_size must be >= 0")
	}
	return nil
}
