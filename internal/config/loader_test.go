package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Executor.Default != "claude-code" {
		t.Fatalf("expected default executor, got %q", cfg.Executor.Default)
	}
	if cfg.Cache.BranchStatusTTL != 5*time.Second {
		t.Fatalf("expected 5s branch status TTL, got %v", cfg.Cache.BranchStatusTTL)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worklift.yaml")
	yaml := "server:\n  port: \"9090\"\ngit:\n  max_concurrent: 2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Git.MaxConcurrent != 2 {
		t.Fatalf("expected max_concurrent 2, got %d", cfg.Git.MaxConcurrent)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.MaxConns != 15 {
		t.Fatalf("expected default pg max conns, got %d", cfg.Postgres.MaxConns)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worklift.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("WORKLIFT_PORT", "7070")
	t.Setenv("WORKLIFT_EXECUTOR", "goose")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env port 7070, got %q", cfg.Server.Port)
	}
	if cfg.Executor.Default != "goose" {
		t.Fatalf("expected env executor, got %q", cfg.Executor.Default)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Setenv("WORKLIFT_GIT_MAX_CONCURRENT", "0")
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error for zero git pool size")
	}
}
