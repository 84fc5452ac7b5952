package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/persist"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/milvus"
)

// Config is the configuration shared by all fractal binaries
type Config struct {
	Log    logger.Config `yaml:"log"`
	Engine engine.Config `yaml:"engine"`

	Source struct {
		Type    string `yaml:"type" default:"duckdb" validate:"oneof=duckdb csv"`
		CSVPath string `yaml:"csv_path" validate:"required_if=Type csv"`
	} `yaml:"source"`

	Persist struct {
		Enabled        bool   `yaml:"enabled" default:"true"`
		Sink           string `yaml:"sink" default:"nats" validate:"oneof=nats duckdb discard"`
		persist.Config `yaml:",inline"`
	} `yaml:"persist"`

	DuckDB struct {
		Path        string `yaml:"path" default:"data/fractal.duckdb" validate:"required"`
		FeaturePath string `yaml:"feature_path" default:"data/features.duckdb" validate:"required"`
	} `yaml:"duckdb"`

	NATS natsq.Config `yaml:"nats"`

	Milvus struct {
		Enabled       bool `yaml:"enabled"`
		milvus.Config `yaml:",inline"`
	} `yaml:"milvus"`

	Server struct {
		Addr            string        `yaml:"addr" default:":8080" validate:"required"`
		RateLimit       float64       `yaml:"rate_limit" default:"20" validate:"gte=0"`
		Burst           int           `yaml:"burst" default:"40" validate:"gte=0"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Cache struct {
		Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis none"`
		TTL     time.Duration `yaml:"ttl" default:"5m"`
		Redis   struct {
			Addr     string `yaml:"addr" default:"127.0.0.1:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

var validate = validator.New()

// Default returns a configuration populated from default tags only
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment variables
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FRACTAL_DUCKDB_PATH"); v != "" {
		c.DuckDB.Path = v
	}
	if v := os.Getenv("FRACTAL_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("FRACTAL_MILVUS_ADDR"); v != "" {
		c.Milvus.Addr = v
		c.Milvus.Enabled = true
	}
	if v := os.Getenv("FRACTAL_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Backend = "redis"
	}
	if v := os.Getenv("FRACTAL_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for _, w := range c.Engine.WindowLengths {
		if w <= 0 {
			return fmt.Errorf("engine.window_lengths: %d is not positive", w)
		}
	}
	for _, m := range c.Engine.IndexModes {
		if !m.Valid() {
			return fmt.Errorf("engine.index_modes: unknown representation %q", m)
		}
	}
	return nil
}
