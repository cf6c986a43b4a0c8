package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	setCredentials(t)
	cfg, err := Load(writeConfig(t, "delta:\n  product_id: 27\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.REST.BaseURL != "https://api.india.delta.exchange" || cfg.REST.Timeout != 10*time.Second {
		t.Fatalf("unexpected rest defaults: %+v", cfg.REST)
	}
	if cfg.Delta.Symbol != "BTCUSD" {
		t.Fatalf("expected default symbol, got %q", cfg.Delta.Symbol)
	}
	if cfg.Bot.PollInterval != 5*time.Second || cfg.Bot.SerializeCycles {
		t.Fatalf("unexpected bot defaults: %+v", cfg.Bot)
	}
	if cfg.Settle.PollInterval != 500*time.Millisecond || cfg.Settle.MaxAttempts != 12 {
		t.Fatalf("unexpected settle defaults: %+v", cfg.Settle)
	}
	if cfg.Retry.Backoff != time.Second {
		t.Fatalf("unexpected retry backoff %v", cfg.Retry.Backoff)
	}
	if cfg.DeadZone.Enabled || cfg.DeadZone.PreserveSize != 2 || cfg.DeadZone.Offset != 1250 || cfg.DeadZone.Leverage != 10 || *cfg.DeadZone.Retries != 4 {
		t.Fatalf("unexpected dead zone defaults: %+v", cfg.DeadZone)
	}
	if !cfg.Metrics.IsEnabled() || cfg.Metrics.Path != "/metrics" || cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Stream.Enabled || cfg.Stream.URL != "wss://socket.india.delta.exchange" || cfg.Stream.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Grid.LegRetries != 0 || cfg.Grid.SerializeLegs {
		t.Fatalf("unexpected grid defaults: %+v", cfg.Grid)
	}
	if cfg.State.RestoreOnStart {
		t.Fatalf("expected restore_on_start off by default")
	}
}

func TestLoadKeepsExplicitZeroDeadZoneRetries(t *testing.T) {
	setCredentials(t)
	cfg, err := Load(writeConfig(t, "deadzone:\n  retries: 0\nmetrics:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.DeadZone.Retries != 0 {
		t.Fatalf("expected explicit zero retries, got %d", *cfg.DeadZone.Retries)
	}
	if cfg.Metrics.IsEnabled() {
		t.Fatalf("expected metrics disabled")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")
	_, err := Load(writeConfig(t, "delta:\n  product_id: 27\n"))
	if err == nil || !strings.Contains(err.Error(), EnvAPIKey) {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvProductID, "84")
	t.Setenv(EnvSymbol, "ETHUSD")
	t.Setenv(EnvBaseURL, "https://cdn-ind.testnet.deltaex.org")
	t.Setenv(EnvTelegramToken, "token")
	t.Setenv(EnvTelegramChatID, "chat")
	cfg, err := Load(writeConfig(t, "delta:\n  product_id: 27\n  symbol: BTCUSD\ntelegram:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Delta.ProductID != 84 || cfg.Delta.Symbol != "ETHUSD" {
		t.Fatalf("unexpected product override: %+v", cfg.Delta)
	}
	if cfg.REST.BaseURL != "https://cdn-ind.testnet.deltaex.org" {
		t.Fatalf("unexpected base url %q", cfg.REST.BaseURL)
	}
	if cfg.Telegram.Token != "token" || cfg.Telegram.ChatID != "chat" {
		t.Fatalf("unexpected telegram override: %+v", cfg.Telegram)
	}
	if cfg.Delta.APIKey != "key" || cfg.Delta.APISecret != "secret" {
		t.Fatalf("expected credentials from env")
	}
}

func TestEnvOverrideRejectsBadProductID(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvProductID, "btc")
	if _, err := Load(writeConfig(t, "{}\n")); err == nil {
		t.Fatalf("expected error for non-numeric product id")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
		want   string
	}{
		{"product", func(cfg *Config) { cfg.Delta.ProductID = -1 }, "delta.product_id"},
		{"leg retries", func(cfg *Config) { cfg.Grid.LegRetries = -1 }, "grid.leg_retries"},
		{"metrics path", func(cfg *Config) { cfg.Metrics.Path = "metrics" }, "metrics.path"},
		{"telegram", func(cfg *Config) { cfg.Telegram.Enabled = true }, "telegram.token"},
		{"operator", func(cfg *Config) { cfg.Telegram.OperatorEnabled = true }, "telegram.operator_enabled"},
		{"timescale", func(cfg *Config) { cfg.Timescale.Enabled = true }, "timescale.dsn"},
		{"stream url", func(cfg *Config) { cfg.Stream.Enabled, cfg.Stream.URL = true, "https://socket" }, "stream.url"},
	}
	for _, tc := range cases {
		cfg := &Config{Delta: DeltaConfig{APIKey: "k", APISecret: "s"}}
		applyDefaults(cfg)
		tc.mutate(cfg)
		err := validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestShippedConfigLoads(t *testing.T) {
	setCredentials(t)
	cfg, err := Load("config.yaml")
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Delta.ProductID != 27 || cfg.Delta.Symbol != "BTCUSD" {
		t.Fatalf("unexpected shipped product: %+v", cfg.Delta)
	}
}
