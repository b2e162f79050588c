// Package config loads the server configuration.
//
// Sources are applied in order: YAML file, environment (optionally seeded from
// a .env file), defaults. Command-line flags in cmd/server override the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr   string `yaml:"addr"`
		Faucet bool   `yaml:"faucet"`
	} `yaml:"server"`
	Staking struct {
		ProgramID      string `yaml:"program_id"`
		EnforceBacking bool   `yaml:"enforce_backing"`
	} `yaml:"staking"`
	Storage struct {
		UseMemory     bool   `yaml:"use_memory"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`
	Events struct {
		BufferSize   int      `yaml:"buffer_size"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"events"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Audit struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"audit"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PROGRAM_ID"); v != "" {
		c.Staking.ProgramID = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Events.KafkaTopic = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("AUDIT_SCHEDULE"); v != "" {
		c.Audit.Schedule = v
	}
	if v := os.Getenv("EVENT_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EVENT_BUFFER_SIZE: %w", err)
		}
		c.Events.BufferSize = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"FAUCET_ENABLED", &c.Server.Faucet},
		{"ENFORCE_BACKING", &c.Staking.EnforceBacking},
		{"USE_MEMORY", &c.Storage.UseMemory},
	}
	for _, b := range bools {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		*b.dst = parsed
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Staking.ProgramID == "" {
		c.Staking.ProgramID = authority.DefaultProgramID.String()
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 1024
	}
	if c.Events.KafkaTopic == "" {
		c.Events.KafkaTopic = "staking-events"
	}
	if c.Audit.Schedule == "" {
		c.Audit.Schedule = "0 * * * * *"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.ProgramID(); err != nil {
		return fmt.Errorf("staking.program_id: %w", err)
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required (or set storage.use_memory)")
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("events.buffer_size must not be negative")
	}
	if c.Server.Faucet && !c.Storage.UseMemory {
		return fmt.Errorf("server.faucet requires storage.use_memory")
	}
	return nil
}

// ProgramID parses the configured program identity.
func (c *Config) ProgramID() (domain.Pubkey, error) {
	return domain.ParsePubkey(c.Staking.ProgramID)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadEnvFile loads environment variables from a .env file if it exists.
// Variables already set in the environment win.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
