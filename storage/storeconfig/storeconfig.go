// Package storeconfig selects storage backends from a YAML document.
package storeconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/storeregistry"
)

// Config describes how to open storage via storeregistry.
//
// Primary is the single writable backend. Archives are read-only fallbacks
// consulted on reads and on the create-if-absent check (see storage.Tiered).
// Callers still need to link desired backend plugins via blank imports.
//
// Example:
//
//	primary:
//	  name: sqlite
//	  config:
//	    sqlite-path: /var/lib/certledger/records.db
//	archives:
//	  - name: localfs
//	    id: legacy
//	    config:
//	      localfs-dir: /srv/certledger-2023
//
// Config values are backend-specific; keys mirror the backend's flag names.
type Config struct {
	Primary  BackendConfig   `yaml:"primary"`
	Archives []BackendConfig `yaml:"archives,omitempty"`
}

type BackendConfig struct {
	// Name is the storeregistry backend name (e.g. "sqlite", "localfs", "grpc", "memory").
	Name string `yaml:"name"`
	// ID is an optional alias used in logs and error messages. If empty, Name is used.
	ID     string            `yaml:"id,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

func (b BackendConfig) label() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("storeconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes and validates a YAML config document.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("storeconfig: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Primary.Name == "" {
		return errors.New("storeconfig: primary backend name is required")
	}
	seen := map[string]struct{}{c.Primary.label(): {}}
	for _, a := range c.Archives {
		if a.Name == "" {
			return errors.New("storeconfig: archive backend name is required")
		}
		if _, ok := seen[a.label()]; ok {
			return fmt.Errorf("storeconfig: duplicate backend id %q", a.label())
		}
		seen[a.label()] = struct{}{}
	}
	return nil
}

// Open opens every configured backend. The returned close function closes
// them in reverse order.
func (c Config) Open(usage storeregistry.Usage) (storage.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	var closers []func() error
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	open := func(b BackendConfig) (storage.Store, error) {
		s, closeFn, err := storeregistry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			return nil, fmt.Errorf("storeconfig: open %s: %w", b.label(), err)
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		return s, nil
	}

	primary, err := open(c.Primary)
	if err != nil {
		return nil, nil, err
	}
	if len(c.Archives) == 0 {
		return primary, closeAll, nil
	}
	archives := make([]storage.Store, 0, len(c.Archives))
	for _, a := range c.Archives {
		s, err := open(a)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		archives = append(archives, s)
	}
	return storage.Tiered{Primary: primary, Archives: archives}, closeAll, nil
}
