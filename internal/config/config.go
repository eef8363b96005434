package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "PARKWISE_CONFIG"

const defaultPath = "configs/parkwise.yaml"

// Session storage backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`

	Session struct {
		Backend              string `yaml:"backend"`
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"session"`

	Redis struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Scanner struct {
		IntervalMS *int `yaml:"interval_ms"`
	} `yaml:"scanner"`

	Booking struct {
		MinAdvanceMinutes int `yaml:"min_advance_minutes"`
	} `yaml:"booking"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Mock struct {
		Listen       string `yaml:"listen"`
		JWTSecret    string `yaml:"jwt_secret"`
		QRTTLMinutes int    `yaml:"qr_ttl_minutes"`
		Seed         bool   `yaml:"seed"`
	} `yaml:"mock"`
}

// Path returns the config path from the environment, or the default one.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return defaultPath
}

// Load reads the YAML file at path. ${VAR} placeholders are expanded from the
// environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8080"
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendFile
	}
	switch cfg.Session.Backend {
	case BackendFile, BackendRedis, BackendSQLite:
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = defaultSessionPath(cfg.Session.Backend)
	}
	if cfg.Session.Backend != BackendRedis {
		if err := os.MkdirAll(filepath.Dir(cfg.Session.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Mock.Listen == "" {
		cfg.Mock.Listen = ":8080"
	}

	return &cfg, nil
}

func defaultSessionPath(backend string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	name := "session.json"
	if backend == BackendSQLite {
		name = "session.db"
	}
	return filepath.Join(dir, "parkwise", name)
}

func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// SessionWatchInterval is zero when watching is disabled.
func (c *Config) SessionWatchInterval() time.Duration {
	if c.Session.WatchIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Session.WatchIntervalSeconds) * time.Second
}

// ScanInterval defaults to 300ms; an explicit 0 disables pacing.
func (c *Config) ScanInterval() time.Duration {
	if c.Scanner.IntervalMS == nil {
		return 300 * time.Millisecond
	}
	if *c.Scanner.IntervalMS <= 0 {
		return 0
	}
	return time.Duration(*c.Scanner.IntervalMS) * time.Millisecond
}

func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

func (c *Config) MockQRTTL() time.Duration {
	if c.Mock.QRTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Mock.QRTTLMinutes) * time.Minute
}

func (c *Config) RedisKeyPrefix() string {
	if c.Redis.KeyPrefix == "" {
		return "parkwise:session:"
	}
	return c.Redis.KeyPrefix
}
