package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
)

// Load reads the configuration from the default path, falling back to
// defaults when no file exists.
func Load() (*Config, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		return NewConfig(), nil
	}
	return LoadOrDefault(configPath)
}

// LoadOrDefault is LoadFrom, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadFrom(path)
	var notFound *ConfigNotFoundError
	if errors.As(err, &notFound) {
		return NewConfig(), nil
	}
	return cfg, err
}

// LoadFrom reads config with enhanced error handling. Fields absent from
// the file keep their defaults.
func LoadFrom(path string) (*Config, error) {
	// Check file existence first
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{
				Path: path,
				Hint: "Run 'session-memory-mcp init' to create configuration",
			}
		}
		return nil, fmt.Errorf("failed to access config: %w", err)
	}

	// Check read permissions
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, &PermissionError{
				Path:    path,
				Op:      "read",
				Fix:     getReadPermissionFix(path),
				Details: getPermissionDetails(path),
			}
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &InvalidConfigError{
			Path:    path,
			Message: fmt.Sprintf("JSON parse error: %v", err),
			Hint:    "Restore from .bak file if available",
		}
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores sections set to null in the file.
func (c *Config) fillDefaults() {
	def := NewConfig()
	if c.Storage == nil {
		c.Storage = def.Storage
	}
	if c.Embedding == nil {
		c.Embedding = def.Embedding
	}
	if c.Index == nil {
		c.Index = def.Index
	}
	if c.Settings == nil {
		c.Settings = def.Settings
	}
}

// getReadPermissionFix returns platform-specific fix command
func getReadPermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Edit permissions", path)
	default: // unix-like
		return fmt.Sprintf("Run: chmod 644 %s", path)
	}
}

// getPermissionDetails checks file ownership and permissions
func getPermissionDetails(path string) string {
	if runtime.GOOS == "windows" {
		return "" // Not applicable on Windows
	}

	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Current permissions: %04o", info.Mode().Perm())
}
