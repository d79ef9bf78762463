// Package config loads the dashboard server configuration from YAML.
// JSON is valid YAML, so the older config.json layout with only a
// "settings" section loads as well.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Settings Settings     `yaml:"settings"`
	Server   ServerConfig `yaml:"server"`
	Cache    CacheConfig  `yaml:"cache"`
	Client   ClientConfig `yaml:"client"`
	Data     DataConfig   `yaml:"data"`
	Log      LogConfig    `yaml:"log"`
}

// Settings identifies the counting API and the page header links.
type Settings struct {
	DBName    string `yaml:"dbname"`
	Endpoint  string `yaml:"endpoint"`
	LineChart string `yaml:"linechart"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

type ClientConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	RateLimit          float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst              int           `yaml:"burst"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// DataConfig points at the label translation files. Both are optional.
type DataConfig struct {
	Labels       string `yaml:"labels"`
	Equivalences string `yaml:"equivalences"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error | off
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":10012"
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 32
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 30 * time.Second
	}
	if c.Client.SearchTimeout == 0 {
		c.Client.SearchTimeout = c.Client.Timeout
	}
	if c.Client.RateLimit > 0 && c.Client.Burst <= 0 {
		c.Client.Burst = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Settings.Endpoint == "" {
		errs = append(errs, errors.New("settings.endpoint is required"))
	}
	if c.Settings.DBName == "" {
		errs = append(errs, errors.New("settings.dbname is required"))
	}
	if c.Cache.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout))
	}
	if c.Client.SearchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.search_timeout must be positive, got %s", c.Client.SearchTimeout))
	}
	if _, ok := levels[c.Log.Level]; !ok {
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

var levels = map[string]log.Lvl{
	"debug": log.DEBUG,
	"info":  log.INFO,
	"warn":  log.WARN,
	"error": log.ERROR,
	"off":   log.OFF,
}

// LogLevel is the gommon level for Log.Level.
func (c *Config) LogLevel() log.Lvl {
	if l, ok := levels[c.Log.Level]; ok {
		return l
	}
	return log.INFO
}
