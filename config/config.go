package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage/storeconfig"
)

// Config holds all configuration for the certledger daemon
type Config struct {
	ProgramID string             `yaml:"program_id"`
	GRPC      GRPCConfig         `yaml:"grpc"`
	HTTP      HTTPConfig         `yaml:"http"`
	Storage   storeconfig.Config `yaml:"storage"`
	Tokens    TokensConfig       `yaml:"tokens"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// GRPCConfig configures the remote storage service
type GRPCConfig struct {
	Listen         string `yaml:"listen"`
	ReservationTTL string `yaml:"reservation_ttl"`
	// ReadOnly refuses every allocation, even a signed one.
	ReadOnly bool `yaml:"read_only"`
}

// HTTPConfig configures the issuance gateway
type HTTPConfig struct {
	Listen    string `yaml:"listen"`
	BodyLimit int    `yaml:"body_limit"`
}

// TokensConfig configures verification tokens
type TokensConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SeedFile string `yaml:"seed_file"`
	TTL      string `yaml:"ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys a file leaves unset.
func Default() Config {
	return Config{
		GRPC:    GRPCConfig{ReservationTTL: "30s"},
		HTTP:    HTTPConfig{BodyLimit: 64 * 1024},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.GRPC.Listen == "" && c.HTTP.Listen == "" {
		return fmt.Errorf("at least one of grpc.listen or http.listen is required")
	}

	if c.ProgramID != "" {
		if _, err := address.Parse(c.ProgramID); err != nil {
			return fmt.Errorf("program_id is invalid: %w", err)
		}
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if _, err := parseDuration(c.GRPC.ReservationTTL); err != nil {
		return fmt.Errorf("grpc.reservation_ttl is invalid: %w", err)
	}
	if c.HTTP.BodyLimit < 0 {
		return fmt.Errorf("http.body_limit must not be negative")
	}

	if c.Tokens.Enabled && c.Tokens.SeedFile == "" {
		return fmt.Errorf("tokens.seed_file is required when tokens are enabled")
	}
	if c.Tokens.TTL != "" {
		if _, err := parseDuration(c.Tokens.TTL); err != nil {
			return fmt.Errorf("tokens.ttl is invalid: %w", err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// ProgramAddress returns the configured program ID, or the default.
func (c *Config) ProgramAddress() address.Address {
	if c.ProgramID == "" {
		return address.DefaultProgramID
	}
	a, _ := address.Parse(c.ProgramID)
	return a
}

func (c *Config) ReservationTTLDuration() time.Duration {
	d, _ := parseDuration(c.GRPC.ReservationTTL)
	return d
}

// TokenTTLDuration returns zero when tokens do not expire.
func (c *Config) TokenTTLDuration() time.Duration {
	if c.Tokens.TTL == "" {
		return 0
	}
	d, _ := parseDuration(c.Tokens.TTL)
	return d
}

// NewLogger builds the daemon logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseDuration parses duration with support for days (e.g., "90d")
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
