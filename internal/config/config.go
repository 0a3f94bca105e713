// Package config loads cupos settings from defaults, an optional YAML file
// and CUPOS_* environment variables. Flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/v0xg/cupos/internal/catalog"
	"github.com/v0xg/cupos/internal/notify"
	"github.com/v0xg/cupos/internal/tracker"
	"gopkg.in/yaml.v3"
)

// ErrIntervalRange is returned for polling intervals outside [MinInterval, MaxInterval]
var ErrIntervalRange = errors.New("interval out of range")

// Config holds every tunable of a cupos run
type Config struct {
	SearchURL string `yaml:"search_url"`
	// Platform is desktop or termux; empty asks at startup
	Platform string `yaml:"platform"`
	// Interval between seat checks; zero asks at startup
	Interval    time.Duration `yaml:"interval"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	StatusEvery time.Duration `yaml:"status_every"`

	Browser  BrowserConfig `yaml:"browser"`
	DebugDir string        `yaml:"debug_dir"`
	Verbose  bool          `yaml:"verbose"`
}

// BrowserConfig configures the launched Chrome
type BrowserConfig struct {
	Headless    bool          `yaml:"headless"`
	Bin         string        `yaml:"bin"`
	ProfileDir  string        `yaml:"profile_dir"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		SearchURL:   catalog.SearchURL,
		MinInterval: tracker.DefaultMinInterval,
		MaxInterval: 180 * time.Second,
		RetryDelay:  3 * time.Second,
		KeepAlive:   60 * time.Second,
		StatusEvery: 30 * time.Second,
		Browser: BrowserConfig{
			Headless:    true,
			IdleTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CUPOS_* variables found by lookup,
// usually os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CUPOS_SEARCH_URL"); ok && v != "" {
		c.SearchURL = v
	}
	if v, ok := lookup("CUPOS_PLATFORM"); ok && v != "" {
		c.Platform = v
	}
	if v, ok := lookup("CUPOS_INTERVAL"); ok && v != "" {
		d, err := ParseSeconds(v)
		if err != nil {
			return fmt.Errorf("CUPOS_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if v, ok := lookup("CUPOS_HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUPOS_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	if v, ok := lookup("CUPOS_BROWSER_BIN"); ok && v != "" {
		c.Browser.Bin = v
	}
	if v, ok := lookup("CUPOS_PROFILE_DIR"); ok && v != "" {
		c.Browser.ProfileDir = v
	}
	if v, ok := lookup("CUPOS_DEBUG_DIR"); ok && v != "" {
		c.DebugDir = v
	}
	if v, ok := lookup("CUPOS_VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUPOS_VERBOSE: %w", err)
		}
		c.Verbose = b
	}
	return nil
}

// ParseSeconds accepts a bare number of seconds or a Go duration
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// CheckInterval reports whether d lies within the allowed polling range
func (c *Config) CheckInterval(d time.Duration) error {
	if d < c.MinInterval || d > c.MaxInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrIntervalRange, d, c.MinInterval, c.MaxInterval)
	}
	return nil
}

// Validate checks the settings after every source has been applied
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"min_interval":         c.MinInterval,
		"max_interval":         c.MaxInterval,
		"retry_delay":          c.RetryDelay,
		"keep_alive":           c.KeepAlive,
		"status_every":         c.StatusEvery,
		"browser.idle_timeout": c.Browser.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.MinInterval < tracker.DefaultMinInterval {
		return fmt.Errorf("min_interval %s is below the %s floor", c.MinInterval, tracker.DefaultMinInterval)
	}
	if c.MinInterval > c.MaxInterval {
		return fmt.Errorf("min_interval %s is above max_interval %s", c.MinInterval, c.MaxInterval)
	}
	if c.Interval != 0 {
		if err := c.CheckInterval(c.Interval); err != nil {
			return err
		}
	}
	if c.Platform != "" {
		if _, err := notify.ParsePlatform(c.Platform); err != nil {
			return err
		}
	}
	if c.SearchURL == "" {
		return errors.New("search_url is required")
	}
	return nil
}
