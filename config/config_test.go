package config

import (
	"path/filepath"
	"testing"
)

func TestValidateConfigOK(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log_level")
	}
}

func TestValidateConfigRejectsMissingRepoRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepoRoot = filepath.Join(t.TempDir(), "does-not-exist")
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for nonexistent repo_root")
	}
}

func TestResolveAuthorFailsWhenUnset(t *testing.T) {
	if _, err := ResolveAuthor(DefaultConfig()); err == nil {
		t.Fatal("expected error when author_name is unset")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("Load(missing) = %+v, want defaults %+v", cfg, DefaultConfig())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.AuthorName = "alice"
	cfg.RemoteURL = "ssh://example.com/widgets"
	cfg.LogLevel = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != cfg {
		t.Fatalf("Load() = %+v, want %+v", got, cfg)
	}
}
