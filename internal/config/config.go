// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kotae/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds remote embedding provider settings. The API key is
// read from the environment variable named by APIKeyEnv, never from the file.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// CompletionConfig holds remote completion provider settings.
type CompletionConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ChunkingConfig holds document chunking settings. Overlap and Boundary are
// pointers so an explicit zero or false in the file is distinguishable from
// the value being absent.
type ChunkingConfig struct {
	Size     int   `yaml:"size"`
	Overlap  *int  `yaml:"overlap"`
	Boundary *bool `yaml:"boundary"`
}

// OverlapOrDefault returns the configured overlap; defaults to 200.
func (c *ChunkingConfig) OverlapOrDefault() int {
	if c.Overlap != nil {
		return *c.Overlap
	}
	return 200
}

// BoundaryOrDefault returns whether boundary snapping is enabled; defaults to true.
func (c *ChunkingConfig) BoundaryOrDefault() bool {
	if c.Boundary != nil {
		return *c.Boundary
	}
	return true
}

// RetrievalConfig holds query-time retrieval settings.
type RetrievalConfig struct {
	DefaultLimit  int     `yaml:"default_limit"`
	MaxLimit      int     `yaml:"max_limit"`
	Threshold     float64 `yaml:"threshold"`
	RerankEnabled bool    `yaml:"rerank_enabled"`
	RerankFactor  int     `yaml:"rerank_factor"`
	Concurrency   int     `yaml:"concurrency"`
}

// WatchConfig holds drop-folder watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Timeout returns the embedding request timeout as a duration.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the completion request timeout as a duration.
func (c *CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would only fail later at request time.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive", models.ErrConfiguration)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: chunking.size must be positive", models.ErrConfiguration)
	}
	if overlap := c.Chunking.OverlapOrDefault(); overlap < 0 || overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking.overlap must satisfy 0 <= overlap < size", models.ErrConfiguration)
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("%w: retrieval.threshold must be in [-1, 1]", models.ErrConfiguration)
	}
	if c.Retrieval.MaxLimit < c.Retrieval.DefaultLimit {
		return fmt.Errorf("%w: retrieval.max_limit must be >= default_limit", models.ErrConfiguration)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
