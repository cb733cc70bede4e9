// Package config assembles runtime configuration from an optional YAML file
// overlaid with environment variables. Env always wins, so deployments can
// override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
}

// StorageConfig selects the persistence backend. "memory" keeps everything
// in process; "postgres" requires a DSN.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type OutboxConfig struct {
	Tick      time.Duration `yaml:"tick"`
	BatchSize int           `yaml:"batch_size"`
}

type DispatchConfig struct {
	MaxPollAttempts int `yaml:"max_poll_attempts"`
	// ExtraTypeACodes and ExtraTypeBCodes extend the built-in operator
	// classification sets without replacing them.
	ExtraTypeACodes []string `yaml:"extra_type_a_codes"`
	ExtraTypeBCodes []string `yaml:"extra_type_b_codes"`
}

// Load reads the optional YAML file at path (skipped when empty), overlays
// environment variables, applies defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.overlayEnv()
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// FromEnv builds configuration from environment variables alone, reading the
// optional file named by AUTHHUB_CONFIG first.
func FromEnv() (Config, error) {
	return Load(os.Getenv("AUTHHUB_CONFIG"))
}

func (c *Config) overlayEnv() {
	setString(&c.Server.Addr, "AUTHHUB_ADDR")
	setString(&c.Server.JWTSigningKey, "AUTHHUB_JWT_SIGNING_KEY")
	setDuration(&c.Server.ShutdownTimeout, "AUTHHUB_SHUTDOWN_TIMEOUT")

	setString(&c.Storage.Backend, "AUTHHUB_STORAGE_BACKEND")
	setString(&c.Storage.DSN, "AUTHHUB_POSTGRES_DSN")

	setString(&c.Redis.URL, "AUTHHUB_REDIS_URL")

	if v := os.Getenv("AUTHHUB_KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitAndTrim(v)
	}
	setString(&c.Kafka.Topic, "AUTHHUB_KAFKA_TOPIC")

	setDuration(&c.Outbox.Tick, "AUTHHUB_OUTBOX_TICK")
	setInt(&c.Outbox.BatchSize, "AUTHHUB_OUTBOX_BATCH_SIZE")

	setInt(&c.Dispatch.MaxPollAttempts, "AUTHHUB_DISPATCH_MAX_POLL_ATTEMPTS")
	if v := os.Getenv("AUTHHUB_DISPATCH_EXTRA_TYPE_A_CODES"); v != "" {
		c.Dispatch.ExtraTypeACodes = splitAndTrim(v)
	}
	if v := os.Getenv("AUTHHUB_DISPATCH_EXTRA_TYPE_B_CODES"); v != "" {
		c.Dispatch.ExtraTypeBCodes = splitAndTrim(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.JWTSigningKey == "" {
		// Development fallback; production deployments must override it.
		c.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "authhub.domain-events"
	}
	if c.Outbox.Tick == 0 {
		c.Outbox.Tick = 10 * time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Dispatch.MaxPollAttempts == 0 {
		c.Dispatch.MaxPollAttempts = 5
	}
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage.backend=postgres")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled=true")
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("outbox.batch_size must be positive")
	}
	if c.Dispatch.MaxPollAttempts < 1 {
		return fmt.Errorf("dispatch.max_poll_attempts must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
