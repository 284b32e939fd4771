package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != DefaultMaxWorkers || cfg.EventMailboxSize != DefaultEventMailboxSize {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchflow.yaml")
	if err := os.WriteFile(path, []byte("max_workers: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MAX_WORKERS", "16")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != 16 {
		t.Fatalf("MaxWorkers = %d, want env override 16", cfg.MaxWorkers)
	}
}

func TestFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchflow.yaml")
	if err := os.WriteFile(path, []byte("max_active_users: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActiveUsers != 5 {
		t.Fatalf("MaxActiveUsers = %d, want 5", cfg.MaxActiveUsers)
	}
}

func TestValidateRejectsNegativeMaxWorkers(t *testing.T) {
	cfg := &Config{MaxWorkers: -1, EventMailboxSize: 8, LatencyWindow: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative MaxWorkers to fail validation")
	}
}

func TestAllowsImagePathEmptyAllowlistPermitsAll(t *testing.T) {
	cfg := &Config{}
	if !cfg.AllowsImagePath("/anything/at/all.png") {
		t.Fatal("empty allowlist should permit any path")
	}
}

func TestAllowsImagePathMatchesGlob(t *testing.T) {
	cfg := &Config{ImagePathAllowlist: []string{"/data/**/*.tiff"}}
	if !cfg.AllowsImagePath("/data/tenant1/slide.tiff") {
		t.Fatal("expected glob match")
	}
	if cfg.AllowsImagePath("/etc/passwd") {
		t.Fatal("expected non-matching path to be rejected")
	}
}
