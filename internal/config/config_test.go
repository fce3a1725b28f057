package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load() of a missing file = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydra.conf")
	contents := "max_concurrent_evals = 8\nstatus_addr = :9000\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxConcurrentEvals != 8 {
		t.Errorf("MaxConcurrentEvals = %d, want 8", cfg.MaxConcurrentEvals)
	}
	if cfg.StatusAddr != ":9000" {
		t.Errorf("StatusAddr = %q, want %q", cfg.StatusAddr, ":9000")
	}
}

func TestLoad_ClampsMaxConcurrentEvals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydra.conf")
	if err := os.WriteFile(path, []byte("max_concurrent_evals = 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxConcurrentEvals != 1 {
		t.Errorf("MaxConcurrentEvals = %d, want clamped to 1", cfg.MaxConcurrentEvals)
	}
}
