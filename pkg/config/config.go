package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/panbanda/p95agg/pkg/stats"
)

// Config holds all configuration options for p95agg.
type Config struct {
	// Aggregation settings
	Aggregate AggregateConfig `koanf:"aggregate" toml:"aggregate"`

	// Input parsing
	Input InputConfig `koanf:"input" toml:"input"`

	// Cache settings
	Cache CacheConfig `koanf:"cache" toml:"cache"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`

	// Watch settings
	Watch WatchConfig `koanf:"watch" toml:"watch"`
}

// AggregateConfig controls how groups are evaluated.
type AggregateConfig struct {
	Policy  string `koanf:"policy" toml:"policy"`   // linear-interpolation, nearest-rank-ceiling
	Workers int    `koanf:"workers" toml:"workers"` // 0 means 2x NumCPU
	Summary bool   `koanf:"summary" toml:"summary"`
}

// InputConfig describes how rows are read.
type InputConfig struct {
	Format      string   `koanf:"format" toml:"format"` // csv, jsonl; empty detects from extension
	Header      bool     `koanf:"header" toml:"header"`
	Delimiter   string   `koanf:"delimiter" toml:"delimiter"`
	KeyColumn   string   `koanf:"key_column" toml:"key_column"`
	ValueColumn string   `koanf:"value_column" toml:"value_column"`
	NullTokens  []string `koanf:"null_tokens" toml:"null_tokens"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled" toml:"enabled"`
	Dir     string `koanf:"dir" toml:"dir"`
	TTL     int    `koanf:"ttl" toml:"ttl"` // TTL in hours
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format string `koanf:"format" toml:"format"` // text, json, markdown, toon
	Color  bool   `koanf:"color" toml:"color"`
}

// WatchConfig controls file watching.
type WatchConfig struct {
	DebounceMS int `koanf:"debounce_ms" toml:"debounce_ms"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Aggregate: AggregateConfig{
			Policy:  string(stats.DefaultPolicy),
			Workers: 0,
			Summary: false,
		},
		Input: InputConfig{
			Header:      true,
			Delimiter:   ",",
			KeyColumn:   "key",
			ValueColumn: "value",
			NullTokens:  []string{"", "null", "NULL", `\N`},
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".p95agg/cache",
			TTL:     24,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if _, err := stats.ParsePolicy(c.Aggregate.Policy); err != nil {
		errs = append(errs, fmt.Errorf("aggregate.policy: %w", err))
	}
	if c.Aggregate.Workers < 0 {
		errs = append(errs, fmt.Errorf("aggregate.workers must not be negative (got %d)", c.Aggregate.Workers))
	}

	switch strings.ToLower(c.Input.Format) {
	case "", "csv", "jsonl", "ndjson":
	default:
		errs = append(errs, fmt.Errorf("input.format must be csv or jsonl (got %q)", c.Input.Format))
	}
	if len([]rune(c.Input.Delimiter)) > 1 {
		errs = append(errs, fmt.Errorf("input.delimiter must be a single character (got %q)", c.Input.Delimiter))
	}
	if c.Input.ValueColumn == "" {
		errs = append(errs, errors.New("input.value_column must be set"))
	}

	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative (got %d)", c.Cache.TTL))
	}

	switch strings.ToLower(c.Output.Format) {
	case "", "text", "json", "markdown", "md", "toon":
	default:
		errs = append(errs, fmt.Errorf("output.format must be text, json, markdown or toon (got %q)", c.Output.Format))
	}

	if c.Watch.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce_ms must not be negative (got %d)", c.Watch.DebounceMS))
	}

	return errors.Join(errs...)
}

// Policy returns the parsed aggregation policy. Call Validate first.
func (c *Config) Policy() stats.Policy {
	p, err := stats.ParsePolicy(c.Aggregate.Policy)
	if err != nil {
		return stats.DefaultPolicy
	}
	return p
}

// Load loads configuration from a file and validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadResult is the outcome of LoadConfig.
type LoadResult struct {
	Config *Config
	// Source is the file the config was read from, empty for defaults.
	Source string
}

type loadOptions struct {
	path string
	dirs []string
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadOptions)

// WithPath loads from an explicit file instead of searching.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) {
		o.path = path
	}
}

// WithSearchDirs overrides the directories searched for a config file.
func WithSearchDirs(dirs ...string) LoadOption {
	return func(o *loadOptions) {
		o.dirs = dirs
	}
}

// Names are the config file names searched for, in order.
var Names = []string{
	"p95agg.toml",
	"p95agg.yaml",
	"p95agg.yml",
	"p95agg.json",
	".p95agg.toml",
	".p95agg.yaml",
	".p95agg.yml",
	".p95agg.json",
}

// LoadConfig loads an explicit config file, or the first config found in the
// search directories, or the defaults. Unlike LoadOrDefault, an invalid file
// is reported as an error.
func LoadConfig(opts ...LoadOption) (*LoadResult, error) {
	o := loadOptions{dirs: []string{".", ".p95agg"}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.path != "" {
		cfg, err := Load(o.path)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Config: cfg, Source: o.path}, nil
	}

	for _, dir := range o.dirs {
		for _, name := range Names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				return nil, err
			}
			return &LoadResult{Config: cfg, Source: path}, nil
		}
	}

	return &LoadResult{Config: DefaultConfig()}, nil
}

// LoadOrDefault tries to load config from standard locations or returns defaults.
func LoadOrDefault() *Config {
	result, err := LoadConfig()
	if err != nil {
		return DefaultConfig()
	}
	return result.Config
}
