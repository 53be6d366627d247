package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/koisyn/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Koi.SentinelPort != 0 {
		t.Errorf("Koi.SentinelPort = %d, want 0", cfg.Koi.SentinelPort)
	}

	if cfg.Koi.HandshakeRetryInterval != 4*time.Second {
		t.Errorf("Koi.HandshakeRetryInterval = %v, want %v", cfg.Koi.HandshakeRetryInterval, 4*time.Second)
	}

	if cfg.Koi.HandshakeShortTimeout != 12*time.Second {
		t.Errorf("Koi.HandshakeShortTimeout = %v, want %v", cfg.Koi.HandshakeShortTimeout, 12*time.Second)
	}

	if cfg.Koi.HandshakeLongTimeout != 60*time.Second {
		t.Errorf("Koi.HandshakeLongTimeout = %v, want %v", cfg.Koi.HandshakeLongTimeout, 60*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
koi:
  sentinel_port: 7777
  cert_dir: "/tmp/koisyn-certs"
  handshake_retry_interval: "2s"
  handshake_short_timeout: "10s"
  handshake_long_timeout: "45s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Koi.SentinelPort != 7777 {
		t.Errorf("Koi.SentinelPort = %d, want 7777", cfg.Koi.SentinelPort)
	}

	if cfg.Koi.CertDir != "/tmp/koisyn-certs" {
		t.Errorf("Koi.CertDir = %q, want %q", cfg.Koi.CertDir, "/tmp/koisyn-certs")
	}

	if cfg.Koi.HandshakeRetryInterval != 2*time.Second {
		t.Errorf("Koi.HandshakeRetryInterval = %v, want %v", cfg.Koi.HandshakeRetryInterval, 2*time.Second)
	}

	if cfg.Koi.HandshakeShortTimeout != 10*time.Second {
		t.Errorf("Koi.HandshakeShortTimeout = %v, want %v", cfg.Koi.HandshakeShortTimeout, 10*time.Second)
	}

	if cfg.Koi.HandshakeLongTimeout != 45*time.Second {
		t.Errorf("Koi.HandshakeLongTimeout = %v, want %v", cfg.Koi.HandshakeLongTimeout, 45*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level and koi.sentinel_port.
	// Everything else should inherit from defaults.
	yamlContent := `
log:
  level: "warn"
koi:
  sentinel_port: 4242
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Koi.SentinelPort != 4242 {
		t.Errorf("Koi.SentinelPort = %d, want 4242", cfg.Koi.SentinelPort)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Koi.HandshakeRetryInterval != 4*time.Second {
		t.Errorf("Koi.HandshakeRetryInterval = %v, want default %v", cfg.Koi.HandshakeRetryInterval, 4*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "zero retry interval",
			modify: func(cfg *config.Config) {
				cfg.Koi.HandshakeRetryInterval = 0
			},
			wantErr: config.ErrInvalidRetryInterval,
		},
		{
			name: "negative retry interval",
			modify: func(cfg *config.Config) {
				cfg.Koi.HandshakeRetryInterval = -1 * time.Second
			},
			wantErr: config.ErrInvalidRetryInterval,
		},
		{
			name: "short timeout not after retry interval",
			modify: func(cfg *config.Config) {
				cfg.Koi.HandshakeShortTimeout = cfg.Koi.HandshakeRetryInterval
			},
			wantErr: config.ErrInvalidShortTimeout,
		},
		{
			name: "long timeout not after short timeout",
			modify: func(cfg *config.Config) {
				cfg.Koi.HandshakeLongTimeout = cfg.Koi.HandshakeShortTimeout
			},
			wantErr: config.ErrInvalidLongTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("KOISYN_LOG_LEVEL", "debug")
	t.Setenv("KOISYN_KOI_SENTINEL_PORT", "9999")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}

	if cfg.Koi.SentinelPort != 9999 {
		t.Errorf("Koi.SentinelPort = %d, want 9999 (from env)", cfg.Koi.SentinelPort)
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("KOISYN_METRICS_ADDR", ":9200")
	t.Setenv("KOISYN_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "koisyn.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
