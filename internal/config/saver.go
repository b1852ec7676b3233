package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Save validates cfg and writes it to path. The previous file is kept as
// path.bak and the write goes through path.tmp, so a crash never leaves a
// half-written config behind. Secrets are never persisted.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(forDisk(cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := ensureWritable(path); err != nil {
		return err
	}
	if err := backupConfig(path); err != nil {
		// First run has nothing to back up; anything else is worth a note.
		fmt.Fprintf(os.Stderr, "Warning: failed to back up %s: %v\n", path, err)
	}
	return writeAtomic(path, data)
}

// forDisk returns a shallow copy of cfg without the API key. The key belongs
// in the environment or a .env file.
func forDisk(cfg *Config) *Config {
	out := *cfg
	if cfg.Embedding != nil {
		emb := *cfg.Embedding
		emb.APIKey = ""
		out.Embedding = &emb
	}
	return &out
}

func backupConfig(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", data, 0600)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ensureWritable creates the config directory and checks that both the
// directory and an existing file can be written.
func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	denied := func(target, details string) error {
		return &PermissionError{Path: target, Op: "write", Fix: getWritePermissionFix(target), Details: details}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return denied(dir, "Cannot create config directory")
	}

	check, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return denied(dir, "Cannot write to config directory")
	}
	check.Close()
	os.Remove(check.Name())

	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return denied(path, "Config file is read-only")
		}
		f.Close()
	}
	return nil
}

func getWritePermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Grant 'Write' permission", path)
	default: // unix-like
		return fmt.Sprintf("Run: chmod u+w %s", path)
	}
}
