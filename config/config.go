// Package config loads client configuration from YAML or JSON files, picked
// by extension, with environment-friendly defaults for everything but the
// store endpoint.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shopsync/shopsync/logging"
)

// Config is the full client configuration.
type Config struct {
	// Endpoint is the remote store URL. Required.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SyncInterval is the background reconcile cadence.
	SyncInterval Duration `json:"sync_interval,omitempty" yaml:"sync_interval,omitempty"`

	// DebounceWindow collapses bursts of status changes into one write.
	DebounceWindow Duration `json:"debounce_window,omitempty" yaml:"debounce_window,omitempty"`

	// WriteTimeout bounds each remote write attempt.
	WriteTimeout Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`

	// OrderWindowDays bounds how far back order rows are pulled.
	OrderWindowDays int `json:"order_window_days,omitempty" yaml:"order_window_days,omitempty"`

	// CachePath is the SQLite warm-start cache file. Empty disables caching.
	CachePath string `json:"cache_path,omitempty" yaml:"cache_path,omitempty"`

	// Realtime toggles the websocket change feed.
	Realtime bool `json:"realtime,omitempty" yaml:"realtime,omitempty"`

	Logging logging.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Default returns the production defaults. Endpoint must still be set.
func Default() Config {
	return Config{
		SyncInterval:    Duration(60 * time.Second),
		DebounceWindow:  Duration(500 * time.Millisecond),
		WriteTimeout:    Duration(30 * time.Second),
		OrderWindowDays: 30,
		Realtime:        true,
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a configuration file, YAML or JSON by extension, and merges it
// over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	format := "yaml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return Config{}, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
	return Parse(data, format)
}

// Parse decodes raw configuration bytes in the given format ("yaml" or
// "json") over the defaults and validates the result.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing yaml config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing json config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for coherent values.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("endpoint %q is not an http(s) URL", c.Endpoint)
	}
	if c.SyncInterval.D() < time.Second {
		return fmt.Errorf("sync_interval %s is below the 1s minimum", c.SyncInterval)
	}
	if c.DebounceWindow.D() <= 0 {
		return fmt.Errorf("debounce_window must be positive")
	}
	if c.WriteTimeout.D() < time.Second {
		return fmt.Errorf("write_timeout %s is below the 1s minimum", c.WriteTimeout)
	}
	if c.OrderWindowDays <= 0 {
		return fmt.Errorf("order_window_days must be positive")
	}
	return nil
}

// OrderWindow returns the pull window as a duration.
func (c Config) OrderWindow() time.Duration {
	return time.Duration(c.OrderWindowDays) * 24 * time.Hour
}
