// Package config loads the YAML settings shared by the cuecard binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/cuecard/go/internal/dbconfig"
	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/authority"
	"github.com/mcdev12/cuecard/go/internal/timer/events"
	"github.com/mcdev12/cuecard/go/internal/timer/machine"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
	"github.com/mcdev12/cuecard/go/internal/timer/store/pgstore"
	"github.com/mcdev12/cuecard/go/internal/timer/store/redisstore"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Authority AuthorityConfig `yaml:"authority"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Presets   []PresetConfig  `yaml:"presets"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type PostgresConfig struct {
	DSN              string        `yaml:"dsn"`
	NotifyChannel    string        `yaml:"notify_channel"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
}

type RedisConfig struct {
	Addr             string        `yaml:"addr"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	Prefix           string        `yaml:"prefix"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
}

type NATSConfig struct {
	// URL enables event publishing when set.
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

type AuthorityConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	CommandTTL   time.Duration `yaml:"command_ttl"`
	Resume       string        `yaml:"resume"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

type GatewayConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PresetConfig struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	LowerSec int    `yaml:"lower_sec"`
	MidSec   int    `yaml:"mid_sec"`
	UpperSec int    `yaml:"upper_sec"`
}

// Load reads path, applies environment overrides and defaults, and validates
// the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	str("CUECARD_LOG_LEVEL", &c.LogLevel)
	str("CUECARD_STORE", &c.Store.Backend)
	str("CUECARD_PG_DSN", &c.Postgres.DSN)
	str("CUECARD_REDIS_ADDR", &c.Redis.Addr)
	str("CUECARD_REDIS_PASSWORD", &c.Redis.Password)
	str("NATS_URL", &c.NATS.URL)
	str("CUECARD_RESUME", &c.Authority.Resume)
	str("CUECARD_METRICS_ADDR", &c.Authority.MetricsAddr)
	str("CUECARD_GATEWAY_ADDR", &c.Gateway.Addr)
	if v := os.Getenv("CUECARD_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CUECARD_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	return errors.Join(
		dur("CUECARD_TICK_INTERVAL", &c.Authority.TickInterval),
		dur("CUECARD_COMMAND_TTL", &c.Authority.CommandTTL),
	)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}

	pg := pgstore.DefaultConfig()
	if c.Postgres.DSN == "" && c.Store.Backend == BackendPostgres {
		c.Postgres.DSN = dbconfig.NewConfigFromEnv().DSN()
	}
	if c.Postgres.NotifyChannel == "" {
		c.Postgres.NotifyChannel = pg.NotifyChannel
	}
	if c.Postgres.FallbackInterval == 0 {
		c.Postgres.FallbackInterval = pg.FallbackInterval
	}

	rd := redisstore.DefaultConfig()
	if c.Redis.Addr == "" {
		c.Redis.Addr = rd.Addr
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = rd.Prefix
	}
	if c.Redis.FallbackInterval == 0 {
		c.Redis.FallbackInterval = rd.FallbackInterval
	}

	if c.NATS.Stream == "" {
		c.NATS.Stream = events.DefaultJetStreamConfig().StreamName
	}

	if c.Authority.TickInterval == 0 {
		c.Authority.TickInterval = authority.DefaultConfig().TickInterval
	}
	if c.Authority.Resume == "" {
		c.Authority.Resume = string(machine.ResumeContinue)
	}
	if c.Authority.MetricsAddr == "" {
		c.Authority.MetricsAddr = ":9102"
	}

	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8081"
	}
	if len(c.Gateway.AllowedOrigins) == 0 {
		c.Gateway.AllowedOrigins = []string{"*"}
	}

	if len(c.Presets) == 0 {
		for _, p := range session.DefaultPresets() {
			c.Presets = append(c.Presets, PresetConfig{
				ID: p.ID, Label: p.Label, LowerSec: p.LowerSec, MidSec: p.MidSec, UpperSec: p.UpperSec,
			})
		}
	}
}

func (c *Config) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required")
		}
	default:
		return fmt.Errorf("store.backend %q must be one of memory, postgres, redis", c.Store.Backend)
	}
	if c.Authority.TickInterval < 0 {
		return fmt.Errorf("authority.tick_interval must be positive")
	}
	if c.Authority.CommandTTL < 0 {
		return fmt.Errorf("authority.command_ttl must not be negative")
	}
	if !machine.ResumeMode(c.Authority.Resume).Valid() {
		return fmt.Errorf("authority.resume %q must be continue or restart", c.Authority.Resume)
	}
	if err := c.SessionDefaults().Validate(); err != nil {
		return fmt.Errorf("presets: %w", err)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) PostgresStore() pgstore.Config {
	cfg := pgstore.DefaultConfig()
	cfg.DSN = c.Postgres.DSN
	cfg.NotifyChannel = c.Postgres.NotifyChannel
	cfg.FallbackInterval = c.Postgres.FallbackInterval
	return cfg
}

func (c *Config) RedisStore() redisstore.Config {
	return redisstore.Config{
		Addr:             c.Redis.Addr,
		Password:         c.Redis.Password,
		DB:               c.Redis.DB,
		Prefix:           c.Redis.Prefix,
		FallbackInterval: c.Redis.FallbackInterval,
	}
}

func (c *Config) JetStream() events.JetStreamConfig {
	cfg := events.DefaultJetStreamConfig()
	cfg.URL = c.NATS.URL
	cfg.StreamName = c.NATS.Stream
	return cfg
}

func (c *Config) AuthorityConfig() authority.Config {
	return authority.Config{
		TickInterval: c.Authority.TickInterval,
		CommandTTL:   c.Authority.CommandTTL,
		Resume:       machine.ResumeMode(c.Authority.Resume),
	}
}

// SessionDefaults is the config new sessions are created with.
func (c *Config) SessionDefaults() models.SessionConfig {
	cfg := session.DefaultConfig()
	cfg.Presets = make([]models.Preset, 0, len(c.Presets))
	for _, p := range c.Presets {
		cfg.Presets = append(cfg.Presets, models.Preset{
			ID: p.ID, Label: p.Label, LowerSec: p.LowerSec, MidSec: p.MidSec, UpperSec: p.UpperSec,
		})
	}
	return cfg
}
