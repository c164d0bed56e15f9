package jsrun

import (
	"testing"
	"time"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Config{Workers: 2}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.PagesDir != DefaultPagesDir {
		t.Errorf("PagesDir = %q, want %q", cfg.PagesDir, DefaultPagesDir)
	}
	if cfg.Logger == nil {
		t.Error("validate should install a no-op logger")
	}
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := Config{Workers: 2, PagesDir: "views"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.PagesDir != "views" {
		t.Errorf("PagesDir = %q, want views", cfg.PagesDir)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("JSRUN_WORKERS", "8")
	t.Setenv("JSRUN_PAGES_DIR", "views")
	t.Setenv("JSRUN_SCRIPT_TIMEOUT", "250ms")
	t.Setenv("JSRUN_MEMORY_LIMIT_MB", "64")
	t.Setenv("JSRUN_QUEUE_DEPTH", "100")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.PagesDir != "views" {
		t.Errorf("PagesDir = %q, want views", cfg.PagesDir)
	}
	if cfg.ScriptTimeout != 250*time.Millisecond {
		t.Errorf("ScriptTimeout = %v, want 250ms", cfg.ScriptTimeout)
	}
	if cfg.MemoryLimitMB != 64 {
		t.Errorf("MemoryLimitMB = %d, want 64", cfg.MemoryLimitMB)
	}
	if cfg.QueueDepth != 100 {
		t.Errorf("QueueDepth = %d, want 100", cfg.QueueDepth)
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("default Workers = %d, want 4", cfg.Workers)
	}
	if cfg.PagesDir != DefaultPagesDir {
		t.Errorf("default PagesDir = %q, want %q", cfg.PagesDir, DefaultPagesDir)
	}
}

func TestConfigFromEnvBadValue(t *testing.T) {
	t.Setenv("JSRUN_WORKERS", "not-a-number")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected an error for a malformed value")
	}
}
