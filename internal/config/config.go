// Package config provides configuration management for modegate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/modegate/internal/util"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// ModegateDir is the modegate configuration directory.
	ModegateDir = ".modegate"
)

// ExecutorMode selects the execution strategy for queued maintenance work.
type ExecutorMode string

const (
	// ExecutorBackground runs items on a dedicated worker goroutine.
	ExecutorBackground ExecutorMode = "background"
	// ExecutorSynchronous runs items inline at submission time (headless
	// and test hosts).
	ExecutorSynchronous ExecutorMode = "synchronous"
)

// QueueConfig tunes the pending-task queue.
type QueueConfig struct {
	// MergeTasks enables kind-based merging of queued items (default: true).
	MergeTasks bool `yaml:"merge_tasks"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	// Enabled turns journaling on (default: true).
	Enabled bool `yaml:"enabled"`
	// Path is the journal database location, relative to the config dir
	// unless absolute.
	Path string `yaml:"path"`
}

// APIConfig controls the event stream server.
type APIConfig struct {
	// Addr is the listen address for `modegate serve`.
	Addr string `yaml:"addr"`
}

// Config represents the modegate configuration.
type Config struct {
	// Version is the config file version.
	Version int `yaml:"version"`

	// Executor selects the execution strategy (background, synchronous).
	Executor ExecutorMode `yaml:"executor"`

	// StrictAssertions makes contract violations panic instead of being
	// logged and tolerated.
	StrictAssertions bool `yaml:"strict_assertions"`

	// WaitTimeout is the default deadline for availability waits started by
	// the CLI (0 = no deadline).
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	Queue   QueueConfig   `yaml:"queue"`
	Journal JournalConfig `yaml:"journal"`
	API     APIConfig     `yaml:"api"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:  1,
		Executor: ExecutorBackground,
		Queue: QueueConfig{
			MergeTasks: true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(ModegateDir, "journal.db"),
		},
		API: APIConfig{
			Addr: "127.0.0.1:7877",
		},
	}
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Executor {
	case "", ExecutorBackground, ExecutorSynchronous:
	default:
		return fmt.Errorf("invalid executor mode %q", c.Executor)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait_timeout must not be negative")
	}
	return nil
}
