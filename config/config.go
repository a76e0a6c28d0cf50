// Package config holds the CLI-wide defaults: where a repository lives
// absent a local ".asc" directory, who commits are authored by absent an
// explicit user, where to sync against absent an explicit remote, and how
// verbose the bundled logger should be.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the CLI's persistent configuration, loaded from and saved to
// a JSON file under DefaultConfigDir.
type Config struct {
	RepoRoot   string `json:"repo_root"`
	AuthorName string `json:"author_name"`
	RemoteURL  string `json:"remote_url"`
	LogLevel   string `json:"log_level"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultConfigDir is "<home>/.asc", falling back to ".asc" relative to
// the working directory if the home directory can't be determined.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".asc"
	}
	return filepath.Join(home, ".asc")
}

// DefaultConfigPath is DefaultConfigDir()/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// DefaultConfig returns the zero-configuration defaults: no repo root
// override (resolved by searching upward from the cwd instead), no
// default author (the CLI falls back to the repository's current user),
// no default remote, and info-level logging.
func DefaultConfig() Config {
	return Config{
		RepoRoot:   "",
		AuthorName: "",
		RemoteURL:  "",
		LogLevel:   "info",
	}
}

// Validate checks cfg for the subset of fields that have a well-defined
// valid range: LogLevel must be a known level, and a non-empty RepoRoot
// must name an existing directory. Empty RepoRoot/AuthorName/RemoteURL are
// all valid (they mean "use the contextual default").
func Validate(cfg Config) error {
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.RepoRoot != "" {
		if st, err := os.Stat(cfg.RepoRoot); err != nil || !st.IsDir() {
			return fmt.Errorf("repo_root %q is not a directory", cfg.RepoRoot)
		}
	}
	return nil
}

// ResolveAuthor returns cfg's configured default author name, failing if
// none was set - callers use this only when no -author flag and no
// current-user cursor give a better answer.
func ResolveAuthor(cfg Config) (string, error) {
	name := strings.TrimSpace(cfg.AuthorName)
	if name == "" {
		return "", errors.New("no author configured: pass -author or set author_name in config")
	}
	return name, nil
}

// Load reads a Config from path, returning DefaultConfig() unmodified if
// the file doesn't exist yet - a fresh install has no config file until
// something writes one.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating path's parent
// directory if necessary.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
