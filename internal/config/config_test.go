package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearMakeMemEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"MAKE_MEM_CONFIG", "MAKE_MEMORY_AWARE", "MAKE_MEM_NOMEM", "MAKE_MEM_MEMDEBUG",
		"MAKE_MEM_CACHE_DIR", "MAKE_MEM_SHARED_DIR", "MAKE_MEM_METRICS_ENABLED",
		"MAKE_MEM_METRICS_ADDR", "MAKE_MEM_API_ENABLED", "MAKE_MEM_API_ADDR",
		"MAKE_MEM_API_TOKEN", "MAKE_MEM_TRACING_ENABLED", "MAKE_MEM_TRACING_EXPORTER",
		"MAKE_MEM_TRACING_ENDPOINT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadDefaultsWithNoFileOrEnv(t *testing.T) {
	clearMakeMemEnv(t)
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.MemoryAware {
		t.Fatal("expected memory awareness to default on")
	}
	if cfg.CacheDir != "." || cfg.SharedDir != "/dev/shm" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearMakeMemEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "make-mem.yaml")
	if err := os.WriteFile(path, []byte("memory_aware: true\ncache_dir: /from/yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAKE_MEM_CACHE_DIR", "/from/env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/from/env" {
		t.Fatalf("CacheDir = %q, want env override to win", cfg.CacheDir)
	}
}

func TestMemoryAwareFalsyValues(t *testing.T) {
	for _, v := range []string{"0", "no", "false", "NO", "False"} {
		clearMakeMemEnv(t)
		dir := t.TempDir()
		t.Setenv("MAKE_MEMORY_AWARE", v)
		cfg, err := Load(filepath.Join(dir, "missing.yaml"))
		if err != nil {
			t.Fatalf("Load(%q): %v", v, err)
		}
		if cfg.MemoryAware {
			t.Fatalf("MAKE_MEMORY_AWARE=%q should disable memory awareness", v)
		}
	}
}

func TestMemoryAwareAnyOtherValueEnables(t *testing.T) {
	clearMakeMemEnv(t)
	dir := t.TempDir()
	t.Setenv("MAKE_MEMORY_AWARE", "yes-please")
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.MemoryAware {
		t.Fatal("expected non-falsy value to enable memory awareness")
	}
}

func TestValidateRejectsOutOfRangeMemDebug(t *testing.T) {
	cfg := &Config{MemDebug: 9, TracingExporter: "stdout"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for memdebug=9")
	}
}

func TestValidateRequiresEndpointForOTLP(t *testing.T) {
	cfg := &Config{TracingEnabled: true, TracingExporter: "otlp"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for otlp exporter without endpoint")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	clearMakeMemEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("memory_aware: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
