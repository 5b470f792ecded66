package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xdao.co/certledger/address"
)

const sample = `
http:
  listen: 127.0.0.1:8080
grpc:
  listen: 127.0.0.1:7070
  reservation_ttl: 1m
  read_only: true
storage:
  primary:
    name: memory
tokens:
  enabled: true
  seed_file: /etc/certledger/attestor.key
  ttl: 30d
logging:
  level: debug
  format: json
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certledger.yaml")
	if err := os.WriteFile(path, []byte("http:\n  listen: :8080\nstorage:\n  primary:\n    name: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
	if cfg.ReservationTTLDuration() != 30*time.Second {
		t.Fatalf("reservation ttl: %v", cfg.ReservationTTLDuration())
	}
	if cfg.ProgramAddress() != address.DefaultProgramID {
		t.Fatalf("expected default program id")
	}
	if cfg.TokenTTLDuration() != 0 {
		t.Fatalf("expected non-expiring tokens by default")
	}
	if cfg.GRPC.ReadOnly {
		t.Fatalf("grpc store must accept signed allocations by default")
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.GRPC.ReadOnly {
		t.Fatalf("read_only not parsed")
	}
	if cfg.TokenTTLDuration() != 30*24*time.Hour {
		t.Fatalf("token ttl: %v", cfg.TokenTTLDuration())
	}
	if cfg.ReservationTTLDuration() != time.Minute {
		t.Fatalf("reservation ttl: %v", cfg.ReservationTTLDuration())
	}

	var buf bytes.Buffer
	cfg.NewLogger(&buf).Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected JSON debug output, got %q", buf.String())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no listeners":    "storage:\n  primary:\n    name: memory\n",
		"no storage":      "http:\n  listen: :1\n",
		"bad program id":  "program_id: not-base58-0OIl\nhttp:\n  listen: :1\nstorage:\n  primary:\n    name: memory\n",
		"tokens no seed":  "http:\n  listen: :1\nstorage:\n  primary:\n    name: memory\ntokens:\n  enabled: true\n",
		"bad log level":   "http:\n  listen: :1\nstorage:\n  primary:\n    name: memory\nlogging:\n  level: loud\n",
		"bad reservation": "grpc:\n  listen: :1\n  reservation_ttl: soon\nstorage:\n  primary:\n    name: memory\n",
		"negative body":   "http:\n  listen: :1\n  body_limit: -1\nstorage:\n  primary:\n    name: memory\n",
		"bad yaml":        "http: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  listen: :8080\nstorage:\n  primary:\n    name: memory\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	env := map[string]string{
		"CERTLEDGER_GRPC_LISTEN":":7070",
		"CERTLEDGER_LOG_LEVEL":"warn",
		"CERTLEDGER_TOKEN_SEED_FILE":"/run/secrets/attestor",
	}
	if err := ApplyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.GRPC.Listen != ":7070" || cfg.Logging.Level != "warn" || !cfg.Tokens.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	env = map[string]string{"CERTLEDGER_LOG_FORMAT": "xml"}
	if err := ApplyEnv(cfg, func(k string) string { return env[k] }); err == nil {
		t.Fatalf("expected validation error after override")
	}
}
