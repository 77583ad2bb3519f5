// Package config loads codegraph settings from .codegraph.yaml and
// CODEGRAPH_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up in the project root.
const FileName = ".codegraph.yaml"

// Config is the complete configuration.
type Config struct {
	// DataDir holds the database and lock file. Relative paths are
	// resolved against the project root.
	DataDir string        `yaml:"data_dir"`
	Index   IndexConfig   `yaml:"index"`
	Worker  WorkerConfig  `yaml:"worker"`
	Explain ExplainConfig `yaml:"explain"`
	Search  SearchConfig  `yaml:"search"`
	Log     LogConfig     `yaml:"log"`
}

// IndexConfig controls discovery and extraction.
type IndexConfig struct {
	Workers       int      `yaml:"workers"`
	EmbedWorkers  int      `yaml:"embed_workers"`
	EmbedBatch    int      `yaml:"embed_batch"`
	IncludeVendor bool     `yaml:"include_vendor"`
	Exclude       []string `yaml:"exclude,omitempty"`
	CommitLimit   int      `yaml:"commit_limit"`
	MaxTokens     int      `yaml:"max_tokens"`
}

// WorkerConfig describes the embedding worker process. An empty Command
// disables embedding.
type WorkerConfig struct {
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args,omitempty"`
	Mode           string        `yaml:"mode"` // persistent or oneshot
	Model          string        `yaml:"model"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// ExplainConfig describes the one-shot explanation process. An empty
// Command disables explain_code.
type ExplainConfig struct {
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args,omitempty"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit  int     `yaml:"default_limit"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: ".codegraph",
		Index: IndexConfig{
			Workers:      runtime.NumCPU(),
			EmbedWorkers: 4,
			EmbedBatch:   16,
			Exclude:      []string{"testdata"},
			CommitLimit:  500,
			MaxTokens:    1000,
		},
		Worker: WorkerConfig{
			Mode:           "persistent",
			Model:          "mixedbread-ai/mxbai-embed-large-v1",
			StartupTimeout: 5 * time.Minute,
			RequestTimeout: 30 * time.Second,
			CacheSize:      1000,
		},
		Explain: ExplainConfig{
			Model:      "Qwen/Qwen2.5-Coder-1.5B-Instruct",
			Timeout:    5 * time.Minute,
			MaxResults: 8,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration for the project in dir:
//  1. defaults
//  2. .codegraph.yaml in dir, when present
//  3. CODEGRAPH_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decode overlays YAML onto c. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies CODEGRAPH_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CODEGRAPH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CODEGRAPH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CODEGRAPH_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CODEGRAPH_WORKER_COMMAND"); v != "" {
		c.Worker.Command = v
	}
	if v := os.Getenv("CODEGRAPH_WORKER_ARGS"); v != "" {
		c.Worker.Args = strings.Fields(v)
	}
	if v := os.Getenv("CODEGRAPH_MODEL"); v != "" {
		c.Worker.Model = v
	}
	if v := os.Getenv("CODEGRAPH_EXPLAIN_COMMAND"); v != "" {
		c.Explain.Command = v
	}
	if v := os.Getenv("CODEGRAPH_EXPLAIN_ARGS"); v != "" {
		c.Explain.Args = strings.Fields(v)
	}
	if v := os.Getenv("CODEGRAPH_INDEX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODEGRAPH_INDEX_WORKERS: %w", err)
		}
		c.Index.Workers = n
	}
	if v := os.Getenv("CODEGRAPH_INCLUDE_VENDOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CODEGRAPH_INCLUDE_VENDOR: %w", err)
		}
		c.Index.IncludeVendor = b
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Index.Workers < 0 || c.Index.EmbedWorkers < 0 || c.Index.EmbedBatch < 0 {
		return fmt.Errorf("index workers must be non-negative")
	}
	if c.Index.CommitLimit < 0 || c.Index.MaxTokens < 0 {
		return fmt.Errorf("index limits must be non-negative")
	}
	if c.Worker.StartupTimeout < 0 || c.Worker.RequestTimeout < 0 {
		return fmt.Errorf("worker timeouts must be non-negative")
	}
	switch c.Worker.Mode {
	case "", "persistent", "oneshot":
	default:
		return fmt.Errorf("worker.mode must be 'persistent' or 'oneshot', got %s", c.Worker.Mode)
	}
	if c.Explain.Timeout < 0 || c.Explain.MaxResults < 0 {
		return fmt.Errorf("explain timeout and max_results must be non-negative")
	}
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("search.default_limit must be non-negative, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be between 0 and 1, got %f", c.Search.MinSimilarity)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got %s", c.Log.Format)
	}
	return nil
}

// DataPath resolves DataDir against the project root.
func (c *Config) DataPath(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// DatabasePath is the SQLite database location for the project.
func (c *Config) DatabasePath(root string) string {
	return filepath.Join(c.DataPath(root), "codegraph.db")
}

// LockPath is the cross-process index lock for the project.
func (c *Config) LockPath(root string) string {
	return filepath.Join(c.DataPath(root), "index.lock")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
