// Package config loads make-mem's configuration: an optional YAML
// file, overridden by environment variables, overridden by explicit
// CLI flags at the call site. Priority (highest wins): CLI flags > env
// vars > YAML file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables the memory-aware admission
// subsystem accepts.
type Config struct {
	MemoryAware bool   `yaml:"memory_aware"`
	NoDisplay   bool   `yaml:"no_display"`
	MemDebug    int    `yaml:"memdebug"`
	CacheDir    string `yaml:"cache_dir"`
	SharedDir   string `yaml:"shared_dir"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`

	APIEnabled bool   `yaml:"api_enabled"`
	APIAddr    string `yaml:"api_addr"`
	APIToken   string `yaml:"api_token"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter"` // "stdout" or "otlp"
	TracingEndpoint string `yaml:"tracing_endpoint"`

	ProfileGCCron      string `yaml:"profile_gc_cron"`
	ProfileGCMaxAgeDays int   `yaml:"profile_gc_max_age_days"`
}

// SetDefaults fills zero-valued fields with the subsystem's defaults.
func (c *Config) SetDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "."
	}
	if c.SharedDir == "" {
		c.SharedDir = "/dev/shm"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.APIAddr == "" {
		c.APIAddr = "127.0.0.1:9091"
	}
	if c.TracingExporter == "" {
		c.TracingExporter = "stdout"
	}
	if c.ProfileGCCron == "" {
		c.ProfileGCCron = "0 3 * * *"
	}
	if c.ProfileGCMaxAgeDays == 0 {
		c.ProfileGCMaxAgeDays = 90
	}
}

// Load reads configPath (if non-empty and present), applies env var
// overrides, then defaults, and returns the merged Config. A missing
// config file is not an error: make-mem runs fine on defaults + env.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("MAKE_MEM_CONFIG")
	}
	if configPath == "" {
		configPath = "make-mem.yaml"
	}

	cfg := &Config{MemoryAware: true}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAKE_MEMORY_AWARE"); v != "" {
		cfg.MemoryAware = !isFalsy(v)
	}
	if v := os.Getenv("MAKE_MEM_NOMEM"); v != "" {
		cfg.NoDisplay = !isFalsy(v)
	}
	if v := os.Getenv("MAKE_MEM_MEMDEBUG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemDebug = n
		}
	}
	if v := os.Getenv("MAKE_MEM_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("MAKE_MEM_SHARED_DIR"); v != "" {
		cfg.SharedDir = v
	}
	if v := os.Getenv("MAKE_MEM_METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = !isFalsy(v)
	}
	if v := os.Getenv("MAKE_MEM_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MAKE_MEM_API_ENABLED"); v != "" {
		cfg.APIEnabled = !isFalsy(v)
	}
	if v := os.Getenv("MAKE_MEM_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("MAKE_MEM_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("MAKE_MEM_TRACING_ENABLED"); v != "" {
		cfg.TracingEnabled = !isFalsy(v)
	}
	if v := os.Getenv("MAKE_MEM_TRACING_EXPORTER"); v != "" {
		cfg.TracingExporter = v
	}
	if v := os.Getenv("MAKE_MEM_TRACING_ENDPOINT"); v != "" {
		cfg.TracingEndpoint = v
	}
}

// isFalsy matches the spec's MAKE_MEMORY_AWARE contract: "0", "no",
// "false" (case-insensitive) disable; anything else enables.
func isFalsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "no", "false":
		return true
	default:
		return false
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep in a component.
func (c *Config) Validate() error {
	if c.MemDebug < 0 || c.MemDebug > 5 {
		return fmt.Errorf("memdebug must be in 0..5, got %d", c.MemDebug)
	}
	if c.TracingExporter != "stdout" && c.TracingExporter != "otlp" {
		return fmt.Errorf("tracing_exporter must be stdout or otlp, got %q", c.TracingExporter)
	}
	if c.TracingEnabled && c.TracingExporter == "otlp" && c.TracingEndpoint == "" {
		return fmt.Errorf("tracing_endpoint required when tracing_exporter is otlp")
	}
	if c.ProfileGCMaxAgeDays < 0 {
		return fmt.Errorf("profile_gc_max_age_days must be non-negative")
	}
	return nil
}
