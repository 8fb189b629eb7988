package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.TokenBudget != Default().Retrieval.TokenBudget {
		t.Fatalf("expected default token budget, got %d", cfg.Retrieval.TokenBudget)
	}
}

func TestLoad_OverridesAndValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "echomem.yaml")
	body := []byte("retrieval:\n  token_budget: 640\nconsolidation:\n  every_turns: 6\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.TokenBudget != 640 {
		t.Errorf("token_budget = %d, want 640", cfg.Retrieval.TokenBudget)
	}
	if cfg.Consolidation.EveryTurns != 6 {
		t.Errorf("every_turns = %d, want 6", cfg.Consolidation.EveryTurns)
	}
	// Untouched sections keep defaults.
	if cfg.Salience.Explicit != 0.25 {
		t.Errorf("salience.explicit = %v, want 0.25", cfg.Salience.Explicit)
	}
}

func TestLoad_RejectsInvalidBudget(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  token_budget: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for negative token budget, got nil")
	}
}

func TestExpandPath(t *testing.T) {
	t.Parallel()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in test environment")
	}
	got := ExpandPath("~/x/y.db")
	want := filepath.Join(home, "x", "y.db")
	if got != want {
		t.Errorf("ExpandPath() = %q, want %q", got, want)
	}
}
