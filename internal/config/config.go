// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// SecretKeySize is the required length of the password sealing key.
const SecretKeySize = 32

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string        `env:"KEYVAULT_LISTEN_ADDR"      envDefault:"127.0.0.1:8080"`
	DBPath         string        `env:"KEYVAULT_DB_PATH"          envDefault:"keyvault.db"`
	UploadDir      string        `env:"KEYVAULT_UPLOAD_DIR"       envDefault:"uploads"`
	MaxUploadBytes int64         `env:"KEYVAULT_MAX_UPLOAD_BYTES" envDefault:"5242880"`
	JWTSecret      string        `env:"KEYVAULT_JWT_SECRET,required,notEmpty"`
	SecretKeyRaw   string        `env:"KEYVAULT_SECRET_KEY"`
	ReconnectDelay time.Duration `env:"KEYVAULT_RECONNECT_DELAY"  envDefault:"5s"`
	ProbeInterval  time.Duration `env:"KEYVAULT_PROBE_INTERVAL"   envDefault:"15s"`
	LogoTimeout    time.Duration `env:"KEYVAULT_LOGO_TIMEOUT"     envDefault:"5s"`
	LogLevel       string        `env:"KEYVAULT_LOG_LEVEL"        envDefault:"info"`
	LogFormat      string        `env:"KEYVAULT_LOG_FORMAT"       envDefault:"text"`

	// SecretKey is the decoded KEYVAULT_SECRET_KEY, nil when unset.
	SecretKey []byte
}

// Load reads configuration from environment variables and returns a validated Config.
// KEYVAULT_JWT_SECRET is required. KEYVAULT_SECRET_KEY is optional; when set
// it must be 32 bytes, given raw or as 64 hex characters, and enables
// at-rest sealing of stored passwords.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("KEYVAULT_MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("KEYVAULT_RECONNECT_DELAY must be positive, got %s", cfg.ReconnectDelay)
	}
	if cfg.ProbeInterval < 0 {
		return nil, fmt.Errorf("KEYVAULT_PROBE_INTERVAL must not be negative, got %s", cfg.ProbeInterval)
	}
	if cfg.LogoTimeout <= 0 {
		return nil, fmt.Errorf("KEYVAULT_LOGO_TIMEOUT must be positive, got %s", cfg.LogoTimeout)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("KEYVAULT_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	key, err := decodeSecretKey(cfg.SecretKeyRaw)
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = key

	return &cfg, nil
}

// HasSecretKey reports whether password sealing is enabled.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) == SecretKeySize
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("KEYVAULT_LOG_LEVEL has invalid level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

var errSecretKeySize = errors.New("KEYVAULT_SECRET_KEY must be 32 raw bytes or 64 hex characters")

func decodeSecretKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	switch len(raw) {
	case 0:
		return nil, nil
	case SecretKeySize:
		return []byte(raw), nil
	case hex.EncodedLen(SecretKeySize):
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errSecretKeySize, err)
		}
		return key, nil
	default:
		return nil, errSecretKeySize
	}
}
