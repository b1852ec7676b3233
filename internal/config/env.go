package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SESSION_MEMORY_"

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &InvalidConfigError{
				Path:    path,
				Message: fmt.Sprintf("cannot parse env file: %v", err),
				Hint:    "Use KEY=value lines; quote values containing spaces",
			}
		}
	}
	return nil
}

// ApplyEnv overrides cfg from the process environment.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

// envBinding maps one variable onto a config field.
type envBinding struct {
	name string
	set  func(c *Config, value string) error
}

var envBindings = []envBinding{
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = strings.ToLower(v); return nil }},
	{"DB_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"PG_DSN", func(c *Config, v string) error { c.Storage.DSN = v; return nil }},
	{"EMBEDDING_PROVIDER", func(c *Config, v string) error { c.Embedding.Provider = strings.ToLower(v); return nil }},
	{"EMBEDDING_MODEL", func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_BASE_URL", func(c *Config, v string) error { c.Embedding.BaseURL = v; return nil }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) error { c.Embedding.APIKey = v; return nil }},
	{"EMBEDDING_DIMENSIONS", intSetter(func(c *Config) *int { return &c.Embedding.Dimensions })},
	{"EMBEDDING_CACHE_SIZE", intSetter(func(c *Config) *int { return &c.Embedding.CacheSize })},
	{"EMBEDDING_RPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Embedding.RequestsPerSecond = f
		return nil
	}},
	{"INDEX_BACKEND", func(c *Config, v string) error { c.Index.Backend = strings.ToLower(v); return nil }},
	{"EXACT_THRESHOLD", intSetter(func(c *Config) *int { return &c.Index.ExactThreshold })},
	{"IVF_NLIST", intSetter(func(c *Config) *int { return &c.Index.NList })},
	{"IVF_NPROBE", intSetter(func(c *Config) *int { return &c.Index.NProbe })},
	{"KEYWORD_PATH", func(c *Config, v string) error { c.Index.KeywordPath = v; return nil }},
	{"QUEUE_SIZE", intSetter(func(c *Config) *int { return &c.Settings.QueueSize })},
	{"WORKERS", intSetter(func(c *Config) *int { return &c.Settings.Workers })},
	{"QUERY_TIMEOUT", intSetter(func(c *Config) *int { return &c.Settings.QueryTimeoutSeconds })},
	{"BACKFILL_INTERVAL", intSetter(func(c *Config) *int { return &c.Settings.BackfillIntervalSeconds })},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Settings.LogLevel = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Settings.LogFormat = strings.ToLower(v); return nil }},
	{"METRICS_ADDR", func(c *Config, v string) error { c.Settings.MetricsAddr = v; return nil }},
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	cfg.fillDefaults()

	for _, b := range envBindings {
		name := EnvPrefix + b.name
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(value)); err != nil {
			return &InvalidConfigError{
				Path:    name,
				Message: fmt.Sprintf("cannot parse %q: %v", value, err),
				Hint:    "Set " + name + " to a number",
			}
		}
	}

	// The conventional variable works when no explicit key is configured.
	if cfg.Embedding.APIKey == "" {
		if key, ok := lookup("OPENAI_API_KEY"); ok {
			cfg.Embedding.APIKey = strings.TrimSpace(key)
		}
	}
	return nil
}
