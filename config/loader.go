package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over Default and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, ApplyEnv(cfg, os.Getenv)
}

// ApplyEnv applies CERTLEDGER_* overrides from getenv and validates again.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("CERTLEDGER_PROGRAM_ID"); v != "" {
		cfg.ProgramID = v
	}

	if v := getenv("CERTLEDGER_GRPC_LISTEN"); v != "" {
		cfg.GRPC.Listen = v
	}

	if v := getenv("CERTLEDGER_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}

	if v := getenv("CERTLEDGER_TOKEN_SEED_FILE"); v != "" {
		cfg.Tokens.SeedFile = v
		cfg.Tokens.Enabled = true
	}

	if v := getenv("CERTLEDGER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := getenv("CERTLEDGER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration after env overrides: %w", err)
	}
	return nil
}
