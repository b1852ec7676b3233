/*
Package config handles loading, saving, and validating session-memory-mcp configuration.

Configuration is stored in ~/.session-memory-mcp.json. Every field is optional;
missing fields keep their defaults. Environment variables (SESSION_MEMORY_*,
optionally from a .env file) override the file.

Schema:
  {
    "storage":   {"driver": "sqlite", "path": "~/.session-memory-mcp/memory.db", "dsn": ""},
    "embedding": {"provider": "hash", "model": "text-embedding-3-small", "dimensions": 256,
                  "baseUrl": "", "cacheSize": 10000, "requestsPerSecond": 5, "burst": 10},
    "index":     {"backend": "ivf", "exactThreshold": 2048, "nList": 0, "nProbe": 0,
                  "trainThreshold": 1024, "keywordPath": ""},
    "settings":  {"queueSize": 1000, "workers": 4, "jobTimeoutSeconds": 30,
                  "queryTimeoutSeconds": 5, "backfillIntervalSeconds": 300,
                  "logLevel": "info", "logFormat": "text", "metricsAddr": ""}
  }
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Embedding providers.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Index backends.
const (
	BackendFlat     = "flat"
	BackendIVF      = "ivf"
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"
)

// Config represents the root configuration structure.
type Config struct {
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Embedding *EmbeddingConfig `json:"embedding,omitempty"`
	Index     *IndexConfig     `json:"index,omitempty"`

	// Settings contains runtime tuning options.
	Settings *Settings `json:"settings,omitempty"`
}

// StorageConfig selects the authoritative store.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver"`

	// Path is the SQLite database file.
	Path string `json:"path,omitempty"`

	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn,omitempty"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	// Provider is "hash" (local, offline) or "openai" (any OpenAI-compatible API).
	Provider string `json:"provider"`

	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`

	// APIKey is better supplied through SESSION_MEMORY_EMBEDDING_API_KEY or OPENAI_API_KEY.
	APIKey string `json:"apiKey,omitempty"`

	// CacheSize is the number of cached embeddings; 0 disables the cache.
	CacheSize int `json:"cacheSize,omitempty"`

	// RequestsPerSecond throttles calls to the provider; 0 means unlimited.
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty"`
	Burst             int     `json:"burst,omitempty"`
}

// IndexConfig selects and tunes the vector index.
type IndexConfig struct {
	// Backend is "flat", "ivf", "chromem" or "pgvector".
	Backend string `json:"backend"`

	// ExactThreshold forces exact search while a space is smaller.
	ExactThreshold int `json:"exactThreshold,omitempty"`

	// IVF tuning; zero picks a size-based default.
	NList          int `json:"nList,omitempty"`
	NProbe         int `json:"nProbe,omitempty"`
	TrainThreshold int `json:"trainThreshold,omitempty"`

	// KeywordPath persists the keyword index; empty keeps it in memory.
	KeywordPath string `json:"keywordPath,omitempty"`
}

// Settings contains runtime tuning options.
type Settings struct {
	// QueueSize bounds the enrichment queue; jobs beyond it are dropped.
	QueueSize int `json:"queueSize,omitempty"`

	// Workers is the number of enrichment workers.
	Workers int `json:"workers,omitempty"`

	JobTimeoutSeconds   int `json:"jobTimeoutSeconds,omitempty"`
	QueryTimeoutSeconds int `json:"queryTimeoutSeconds,omitempty"`

	// BackfillIntervalSeconds schedules the backfill pass in serve; 0 disables it.
	BackfillIntervalSeconds int `json:"backfillIntervalSeconds,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"logLevel,omitempty"`

	// LogFormat is text or json.
	LogFormat string `json:"logFormat,omitempty"`

	// MetricsAddr serves Prometheus metrics when set (e.g. "127.0.0.1:9464").
	MetricsAddr string `json:"metricsAddr,omitempty"`
}

// NewConfig creates a configuration with every default filled in.
func NewConfig() *Config {
	return &Config{
		Storage: &StorageConfig{
			Driver: DriverSQLite,
			Path:   DefaultDBPath(),
		},
		Embedding: &EmbeddingConfig{
			Provider:          ProviderHash,
			Model:             "text-embedding-3-small",
			Dimensions:        256,
			CacheSize:         10000,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Index: &IndexConfig{
			Backend:        BackendIVF,
			ExactThreshold: 2048,
			TrainThreshold: 1024,
		},
		Settings: &Settings{
			QueueSize:               1000,
			Workers:                 4,
			JobTimeoutSeconds:       30,
			QueryTimeoutSeconds:     5,
			BackfillIntervalSeconds: 300,
			LogLevel:                "info",
			LogFormat:               "text",
		},
	}
}

// JobTimeout returns the enrichment job timeout.
func (s *Settings) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutSeconds) * time.Second
}

// QueryTimeout returns the retrieval timeout.
func (s *Settings) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSeconds) * time.Second
}

// BackfillInterval returns the period of the backfill pass.
func (s *Settings) BackfillInterval() time.Duration {
	return time.Duration(s.BackfillIntervalSeconds) * time.Second
}

// DataDir returns ~/.session-memory-mcp, or a relative fallback without a home directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".session-memory-mcp"
	}
	return filepath.Join(home, ".session-memory-mcp")
}

// DefaultDBPath returns the default SQLite database file.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "memory.db")
}

// GetDefaultConfigPath returns the path to ~/.session-memory-mcp.json
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".session-memory-mcp.json"), nil
}
