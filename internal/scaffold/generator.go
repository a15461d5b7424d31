// Package scaffold generates a starter make-mem.yaml for `make-mem init`.
package scaffold

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const configTemplate = `# make-mem driver configuration.
# Generated by "make-mem init" — environment variables override any
# value here (MAKE_MEM_* or MAKE_MEMORY_AWARE); see internal/config.
memory_aware: {{.MemoryAware}}
no_display: {{.NoDisplay}}
memdebug: {{.MemDebug}}
cache_dir: {{.CacheDir}}
shared_dir: {{.SharedDir}}

metrics_enabled: {{.MetricsEnabled}}
metrics_addr: "{{.MetricsAddr}}"

api_enabled: {{.APIEnabled}}
api_addr: "{{.APIAddr}}"
{{if .APIToken}}api_token: "{{.APIToken}}"
{{end}}
tracing_enabled: {{.TracingEnabled}}
tracing_exporter: "{{.TracingExporter}}"
{{if .TracingEndpoint}}tracing_endpoint: "{{.TracingEndpoint}}"
{{end}}
profile_gc_cron: "{{.ProfileGCCron}}"
profile_gc_max_age_days: {{.ProfileGCMaxAgeDays}}
`

// Config mirrors the fields internal/config.Config exposes, kept
// separate so this package has no import-cycle dependency on it.
type Config struct {
	MemoryAware         bool
	NoDisplay           bool
	MemDebug            int
	CacheDir            string
	SharedDir           string
	MetricsEnabled      bool
	MetricsAddr         string
	APIEnabled          bool
	APIAddr             string
	APIToken            string
	TracingEnabled      bool
	TracingExporter     string
	TracingEndpoint     string
	ProfileGCCron       string
	ProfileGCMaxAgeDays int
}

// Default returns the scaffold's starting point, matching
// internal/config.Config's own SetDefaults values.
func Default() Config {
	return Config{
		MemoryAware:         true,
		CacheDir:            ".",
		SharedDir:           "/dev/shm",
		MetricsAddr:         ":9090",
		APIAddr:             "127.0.0.1:9091",
		TracingExporter:     "stdout",
		ProfileGCCron:       "0 3 * * *",
		ProfileGCMaxAgeDays: 90,
	}
}

// Render renders cfg into YAML text without writing it anywhere —
// used by `make-mem init --dry-run` previews.
func Render(cfg Config) (string, error) {
	tmpl, err := template.New("make-mem.yaml").Parse(configTemplate)
	if err != nil {
		return "", fmt.Errorf("scaffold: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("scaffold: execute template: %w", err)
	}
	return buf.String(), nil
}

// Write renders cfg and writes it to path/make-mem.yaml, failing if
// the file already exists unless overwrite is set.
func Write(cfg Config, dir string, overwrite bool) (string, error) {
	path := filepath.Join(dir, "make-mem.yaml")
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("scaffold: %s already exists (use --force to overwrite)", path)
		}
	}

	content, err := Render(cfg)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("scaffold: write %s: %w", path, err)
	}
	return path, nil
}
