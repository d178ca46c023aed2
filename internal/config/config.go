package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"nutsdispatch/internal/obligation"
	"nutsdispatch/internal/opt"
)

// Config models nutsdispatch.yml.
type Config struct {
	Dispatch struct {
		SoftCapacity        int      `yaml:"softCapacity"`
		HardCapacity        int      `yaml:"hardCapacity"`
		CadenceIntervalDays int      `yaml:"cadenceIntervalDays"`
		FollowUpWindowDays  int      `yaml:"followUpWindowDays"`
		ReservePool         []string `yaml:"reservePool"`
	} `yaml:"dispatch"`
	Server struct {
		Addr      string  `yaml:"addr"`
		RateRPS   float64 `yaml:"rateRPS"`
		RateBurst int     `yaml:"rateBurst"`
	} `yaml:"server"`
	Store struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Fixtures string `yaml:"fixtures"`
	} `yaml:"store"`
	Events struct {
		RedisURL string `yaml:"redisURL"`
	} `yaml:"events"`
	Webhooks struct {
		URLs        []string `yaml:"urls"`
		Secret      string   `yaml:"secret"`
		MaxAttempts int      `yaml:"maxAttempts"`
	} `yaml:"webhooks"`
	Auth struct {
		Mode       string `yaml:"mode"`
		HMACSecret string `yaml:"hmacSecret"`
	} `yaml:"auth"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Dispatch.SoftCapacity = opt.DefaultSoftCapacity
	c.Dispatch.HardCapacity = opt.DefaultHardCapacity
	c.Dispatch.CadenceIntervalDays = obligation.DefaultCadenceInterval
	c.Server.Addr = ":8080"
	c.Server.RateRPS = 20
	c.Server.RateBurst = 40
	c.Store.Driver = "memory"
	c.Webhooks.MaxAttempts = 5
	c.Auth.Mode = "dev"
	return &c
}

// Load reads path (when non-empty), applies env overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config %s not found", path)
			}
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	d := c.Dispatch
	if d.SoftCapacity <= 0 {
		return fmt.Errorf("config.dispatch.softCapacity must be positive")
	}
	if d.HardCapacity < d.SoftCapacity {
		return fmt.Errorf("config.dispatch.hardCapacity (%d) must be >= softCapacity (%d)", d.HardCapacity, d.SoftCapacity)
	}
	if d.CadenceIntervalDays != 1 && d.CadenceIntervalDays != 2 {
		return fmt.Errorf("config.dispatch.cadenceIntervalDays must be 1 or 2")
	}
	if d.FollowUpWindowDays < 0 {
		return fmt.Errorf("config.dispatch.followUpWindowDays must not be negative")
	}
	for _, id := range d.ReservePool {
		if id == "" {
			return fmt.Errorf("config.dispatch.reservePool contains empty inspector id")
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "pgx", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config.store.driver must be memory, pgx or sqlite")
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config.server rate limits must not be negative")
	}
	switch c.Auth.Mode {
	case "dev", "none":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("config.auth.hmacSecret is required in hmac mode")
		}
	default:
		return fmt.Errorf("config.auth.mode must be dev, hmac or none")
	}
	if len(c.Webhooks.URLs) > 0 && c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("config.webhooks.maxAttempts must be positive")
	}
	return nil
}

// SchedulerOptions maps the dispatch section onto engine options.
func (c *Config) SchedulerOptions() opt.Options {
	return opt.Options{
		SoftCapacity: c.Dispatch.SoftCapacity,
		HardCapacity: c.Dispatch.HardCapacity,
		Deriver: obligation.Deriver{
			CadenceInterval:    c.Dispatch.CadenceIntervalDays,
			FollowUpWindowDays: c.Dispatch.FollowUpWindowDays,
		},
		ReservePool: append([]string(nil), c.Dispatch.ReservePool...),
	}
}

// applyEnv layers the deployment environment variables on top of the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "memory" {
			c.Store.Driver = "pgx"
		}
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Events.RedisURL = v
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.Server.RateRPS = f
	}
	if v := getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		c.Server.RateBurst = n
	}
	if v := getenv("AUTH_MODE"); v != "" {
		c.Auth.Mode = strings.ToLower(v)
	}
	if v := getenv("AUTH_HMAC_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		c.Webhooks.Secret = v
	}
	return nil
}
