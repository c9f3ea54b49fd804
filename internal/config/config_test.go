package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
server:
  host: 0.0.0.0
  port: 9090
  rate_limit: 25
  max_upload_mb: 128
data:
  dir: /var/lib/notebookd
qdrant:
  host: qdrant.internal
  port: 6334
  tls: true
model:
  max_tokens: 8192
  temperature: 0.3
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"NOTEBOOKD_HOST", "NOTEBOOKD_PORT", "NOTEBOOKD_RATE_LIMIT",
		"NOTEBOOKD_MAX_UPLOAD_MB", "NOTEBOOKD_DATA_DIR",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_TLS",
		"MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"NOTEBOOKD_HOST":          "0.0.0.0",
		"NOTEBOOKD_PORT":          "9090",
		"NOTEBOOKD_RATE_LIMIT":    "25",
		"NOTEBOOKD_MAX_UPLOAD_MB": "128",
		"NOTEBOOKD_DATA_DIR":      "/var/lib/notebookd",
		"QDRANT_HOST":             "qdrant.internal",
		"QDRANT_PORT":             "6334",
		"QDRANT_TLS":              "true",
		"MODEL_MAX_TOKENS":        "8192",
		"MODEL_TEMPERATURE":       "0.3",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
qdrant:
  host: from-yaml
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("QDRANT_HOST", "from-env")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("QDRANT_HOST"); got != "from-env" {
		t.Errorf("QDRANT_HOST: expected env override %q, got %q", "from-env", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	envKeys := []string{
		"NOTEBOOKD_HOST", "NOTEBOOKD_PORT", "NOTEBOOKD_RATE_LIMIT",
		"NOTEBOOKD_RATE_BURST", "NOTEBOOKD_MAX_UPLOAD_MB",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_TLS",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := FromEnv()
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8087 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Server.RateLimit != 10 || cfg.Server.RateBurst != 20 {
		t.Errorf("rate limit defaults: %+v", cfg.Server)
	}
	if cfg.Qdrant.Host != "localhost" || cfg.Qdrant.Port != 6334 || cfg.Qdrant.TLS {
		t.Errorf("qdrant defaults: %+v", cfg.Qdrant)
	}
}

func TestFromEnv_ReadsOverrides(t *testing.T) {
	t.Setenv("NOTEBOOKD_PORT", "9191")
	t.Setenv("NOTEBOOKD_RATE_LIMIT", "2.5")
	t.Setenv("QDRANT_TLS", "true")

	cfg := FromEnv()
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 2.5 {
		t.Errorf("rate limit = %v, want 2.5", cfg.Server.RateLimit)
	}
	if !cfg.Qdrant.TLS {
		t.Error("qdrant TLS not read from env")
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
		{2.5, "2.5"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
