package config

import (
	"os"
	"path/filepath"
	"testing"

	"staking-ledger/internal/authority"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	for _, name := range []string{
		"LISTEN_ADDR", "PROGRAM_ID", "POSTGRES_DSN", "CLICKHOUSE_DSN", "KAFKA_BROKERS",
		"KAFKA_TOPIC", "REDIS_URL", "AUDIT_SCHEDULE", "EVENT_BUFFER_SIZE",
		"FAUCET_ENABLED", "ENFORCE_BACKING", "USE_MEMORY",
	} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Staking.ProgramID != authority.DefaultProgramID.String() {
		t.Errorf("program id = %q", cfg.Staking.ProgramID)
	}
	if cfg.Events.BufferSize != 1024 || cfg.Events.KafkaTopic != "staking-events" {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.Audit.Schedule != "0 * * * * *" {
		t.Errorf("audit schedule = %q", cfg.Audit.Schedule)
	}
	if cfg.Staking.EnforceBacking {
		t.Error("backing guard should be off by default")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9000"
  faucet: true
staking:
  enforce_backing: true
storage:
  use_memory: true
  postgres_dsn: "postgres://file"
events:
  kafka_brokers: ["a:9092", "b:9092"]
redis:
  url: "redis://file:6379"
`)
	t.Setenv("POSTGRES_DSN", "postgres://env")
	t.Setenv("ENFORCE_BACKING", "false")
	t.Setenv("KAFKA_BROKERS", "c:9092, d:9092,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" || !cfg.Server.Faucet {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.PostgresDSN != "postgres://env" {
		t.Errorf("postgres dsn = %q, want env override", cfg.Storage.PostgresDSN)
	}
	if cfg.Staking.EnforceBacking {
		t.Error("ENFORCE_BACKING=false should override the file")
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[0] != "c:9092" || cfg.Events.KafkaBrokers[1] != "d:9092" {
		t.Errorf("kafka brokers = %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Redis.URL != "redis://file:6379" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(writeFile(t, "bad.yaml", "server: [")); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("USE_MEMORY", "maybe")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-boolean USE_MEMORY")
	}
	t.Setenv("USE_MEMORY", "")

	t.Setenv("EVENT_BUFFER_SIZE", "lots")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric EVENT_BUFFER_SIZE")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"memory", func(c *Config) { c.Storage.UseMemory = true }, false},
		{"postgres", func(c *Config) { c.Storage.PostgresDSN = "postgres://x" }, false},
		{"no storage", func(c *Config) {}, true},
		{"bad program id", func(c *Config) {
			c.Storage.UseMemory = true
			c.Staking.ProgramID = "nope"
		}, true},
		{"faucet on postgres", func(c *Config) {
			c.Storage.PostgresDSN = "postgres://x"
			c.Server.Faucet = true
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("STAKING_TEST_KEEP", "original")
	t.Setenv("STAKING_TEST_NEW", "")
	path := writeFile(t, ".env", "# comment\nSTAKING_TEST_KEEP=fromfile\nSTAKING_TEST_NEW = value \nnot a pair\n")

	LoadEnvFile(path)

	if got := os.Getenv("STAKING_TEST_KEEP"); got != "original" {
		t.Errorf("existing var overwritten: %q", got)
	}
	if got := os.Getenv("STAKING_TEST_NEW"); got != "value" {
		t.Errorf("STAKING_TEST_NEW = %q, want value", got)
	}
}
