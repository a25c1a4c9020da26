package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// Config holds all tracecompact configuration.
type Config struct {
	Listen   string               `yaml:"listen" toml:"listen"`
	Cache    CacheConfig          `yaml:"cache" toml:"cache"`
	Rewriter RewriterConfig       `yaml:"rewriter" toml:"rewriter"`
	Pipeline PipelineConfig       `yaml:"pipeline" toml:"pipeline"`
	Archive  models.ArchiveConfig `yaml:"archive" toml:"archive"`
	Log      LogConfig            `yaml:"log" toml:"log"`
}

// CacheConfig controls the in-memory prompt cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" toml:"max_entries"`
}

// RewriterConfig locates the prompt field in trace records.
// Rules override the default location per record type.
type RewriterConfig struct {
	Field    string       `yaml:"field" toml:"field"`
	RefField string       `yaml:"ref_field" toml:"ref_field"`
	Rules    []RuleConfig `yaml:"rules" toml:"rules"`
}

// RuleConfig maps a record type to a prompt location.
type RuleConfig struct {
	Type     string `yaml:"type" toml:"type"`
	Field    string `yaml:"field" toml:"field"`
	RefField string `yaml:"ref_field" toml:"ref_field"`
}

// PipelineConfig controls batch compaction.
type PipelineConfig struct {
	Workers       int           `yaml:"workers" toml:"workers"`
	Strict        bool          `yaml:"strict" toml:"strict"`
	MaxLineSize   int           `yaml:"max_line_size" toml:"max_line_size"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "console"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8090",
		Cache: CacheConfig{
			MaxEntries: 100,
		},
		Rewriter: RewriterConfig{
			Field:    "system",
			RefField: "system_ref",
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			MaxLineSize:   4 * 1024 * 1024,
			ShutdownGrace: 5 * time.Second,
		},
		Archive: models.ArchiveConfig{
			Enabled:         true,
			DBPath:          "tracecompact.db",
			RetentionDays:   30,
			SnapshotPrompts: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML or TOML config file and expands environment variables.
// The format is chosen by extension; anything other than .toml is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns Default when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	if strings.Trim(c.Rewriter.Field, ". ") == "" {
		errs = append(errs, errors.New("rewriter.field must not be empty"))
	}
	for i, r := range c.Rewriter.Rules {
		if r.Type == "" {
			errs = append(errs, fmt.Errorf("rewriter.rules[%d].type must not be empty", i))
		}
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Archive.Enabled && c.Archive.DBPath == "" {
		errs = append(errs, errors.New("archive.db_path is required when the archive is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
