// Package config handles RuneGraph configuration.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables prefixed with RUNEGRAPH_. Defaults come from
// Default() so a zero-configuration start works out of the box.
//
// Example:
//
//	cfg, err := config.Load("./runegraph.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	db, err := runegraph.Open(ctx, cfg.Options())
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/runegraph/pkg/persist"
	"github.com/orneryd/runegraph/pkg/runegraph"
)

// Config holds RuneGraph configuration.
type Config struct {
	// Storage
	DataDir    string `yaml:"data_dir"`
	PersistKey string `yaml:"persist_key"`

	// Debounce window for snapshot writes.
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// RemoteMode relocates engine execution to a background worker.
	RemoteMode bool `yaml:"remote_mode"`

	// SyncWrites forces fsync after each storage write.
	SyncWrites bool `yaml:"sync_writes"`
}

// Default returns sensible defaults for development use.
func Default() *Config {
	return &Config{
		DataDir:          "./data",
		PersistKey:       "default",
		DebounceInterval: persist.DefaultDebounceInterval,
		RemoteMode:       false,
		SyncWrites:       false,
	}
}

// Load reads the YAML file at path (missing file is not an error) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from RUNEGRAPH_* environment variables.
func (c *Config) applyEnv() {
	c.DataDir = envString("RUNEGRAPH_DATA_DIR", c.DataDir)
	c.PersistKey = envString("RUNEGRAPH_PERSIST_KEY", c.PersistKey)
	c.DebounceInterval = envDuration("RUNEGRAPH_DEBOUNCE_INTERVAL", c.DebounceInterval)
	c.RemoteMode = envBool("RUNEGRAPH_REMOTE_MODE", c.RemoteMode)
	c.SyncWrites = envBool("RUNEGRAPH_SYNC_WRITES", c.SyncWrites)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.PersistKey != "" && c.DataDir == "" {
		return fmt.Errorf("persist_key %q requires data_dir", c.PersistKey)
	}
	if c.DebounceInterval < 0 {
		return fmt.Errorf("debounce_interval must not be negative")
	}
	return nil
}

// Options converts the configuration to library options for direct mode.
func (c *Config) Options() *runegraph.Options {
	return &runegraph.Options{
		DataDir:          c.DataDir,
		PersistKey:       c.PersistKey,
		DebounceInterval: c.DebounceInterval,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
