// Package config manages the KoiSyn daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete koisyn daemon configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Koi     KoiConfig     `koanf:"koi"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// KoiConfig holds the KoiSyn session defaults (§4.1, §4.6).
type KoiConfig struct {
	// SentinelPort is the UDP port the rendezvous socket and secure
	// transport listener bind to. Zero lets the OS choose.
	SentinelPort uint16 `koanf:"sentinel_port"`

	// CertDir is the directory the self-signed transport certificate is
	// loaded from or written to (§6).
	CertDir string `koanf:"cert_dir"`

	// HandshakeRetryInterval is how often the retry daemon resends an
	// outstanding rendezvous packet (§4.6).
	HandshakeRetryInterval time.Duration `koanf:"handshake_retry_interval"`

	// HandshakeShortTimeout gives up and notifies the application once a
	// handshake with known peer ports has run this long without
	// completing (§4.6).
	HandshakeShortTimeout time.Duration `koanf:"handshake_short_timeout"`

	// HandshakeLongTimeout gives up silently once a handshake has run
	// this long without ever learning the peer's ports (§4.6).
	HandshakeLongTimeout time.Duration `koanf:"handshake_long_timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults, matching
// §4.6's retry daemon constants.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Koi: KoiConfig{
			SentinelPort:           0,
			CertDir:                "",
			HandshakeRetryInterval: 4 * time.Second,
			HandshakeShortTimeout:  12 * time.Second,
			HandshakeLongTimeout:   60 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for KoiSyn configuration.
// Variables are named KOISYN_<section>_<key>, e.g., KOISYN_KOI_SENTINEL_PORT.
const envPrefix = "KOISYN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (KOISYN_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	KOISYN_METRICS_ADDR          -> metrics.addr
//	KOISYN_METRICS_PATH          -> metrics.path
//	KOISYN_LOG_LEVEL             -> log.level
//	KOISYN_LOG_FORMAT            -> log.format
//	KOISYN_KOI_SENTINEL_PORT     -> koi.sentinel_port
//	KOISYN_KOI_CERT_DIR          -> koi.cert_dir
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms KOISYN_KOI_SENTINEL_PORT -> koi.sentinel_port.
// Strips the KOISYN_ prefix, lowercases, and replaces the section/key
// separator _ with . while preserving multi-word key underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"koi.sentinel_port":            defaults.Koi.SentinelPort,
		"koi.cert_dir":                 defaults.Koi.CertDir,
		"koi.handshake_retry_interval": defaults.Koi.HandshakeRetryInterval.String(),
		"koi.handshake_short_timeout":  defaults.Koi.HandshakeShortTimeout.String(),
		"koi.handshake_long_timeout":   defaults.Koi.HandshakeLongTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidRetryInterval indicates the handshake retry interval is
	// non-positive.
	ErrInvalidRetryInterval = errors.New("koi.handshake_retry_interval must be > 0")

	// ErrInvalidShortTimeout indicates the short handshake timeout is not
	// strictly after the retry interval.
	ErrInvalidShortTimeout = errors.New("koi.handshake_short_timeout must be > handshake_retry_interval")

	// ErrInvalidLongTimeout indicates the long handshake timeout is not
	// strictly after the short timeout.
	ErrInvalidLongTimeout = errors.New("koi.handshake_long_timeout must be > handshake_short_timeout")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Koi.HandshakeRetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	if cfg.Koi.HandshakeShortTimeout <= cfg.Koi.HandshakeRetryInterval {
		return ErrInvalidShortTimeout
	}
	if cfg.Koi.HandshakeLongTimeout <= cfg.Koi.HandshakeShortTimeout {
		return ErrInvalidLongTimeout
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
