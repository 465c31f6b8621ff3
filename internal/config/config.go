package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries the settings shared by the relaygate binaries. Values come
// from an optional YAML file, overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	RateBurst    int    `yaml:"rate_burst"`
	RatePerSec   int    `yaml:"rate_per_sec"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SweeperConfig struct {
	Cron       string   `yaml:"cron"`
	PendingTTL Duration `yaml:"pending_ttl"`
}

// Duration parses YAML scalars in time.ParseDuration notation ("15m", "1h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			RateBurst:    20,
			RatePerSec:   10,
			MaxBodyBytes: 1 << 20,
		},
		Sweeper: SweeperConfig{
			Cron:       "* * * * *",
			PendingTTL: Duration(15 * time.Minute),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then RELAYGATE_* environment variables. A .env file next to the
// process is loaded first so local runs need no exported variables.
func Load(path string) (Config, error) {
	// Missing .env is fine; it only exists in dev checkouts.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Sweeper.PendingTTL <= 0 {
		return Config{}, fmt.Errorf("sweeper.pending_ttl must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_PG_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_RATE_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RateBurst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_RATE_PER_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RatePerSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_SWEEP_CRON")); v != "" {
		cfg.Sweeper.Cron = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYGATE_PENDING_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sweeper.PendingTTL = Duration(d)
		}
	}
}
