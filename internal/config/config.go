// Package config provides YAML-based configuration for notebookd.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// env vars. Environment variables always win, so existing workflows are
// unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. NOTEBOOKD_CONFIG environment variable
//  3. ~/.notebookd/config.yaml
//  4. ./notebookd.yaml
//
// If no file is found the system runs entirely from env vars.
//
// Note that LLM and embedding providers are NOT configured here: each
// notebook declares its own providers at creation time. The file covers the
// service-level concerns only.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming.
type Config struct {
	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Data configures where notebook metadata and content overflow live.
	Data DataConfig `yaml:"data"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Model configures response generation tuning applied to every notebook.
	Model ModelConfig `yaml:"model"`

	// Audit configures the SQLite document-event log.
	Audit AuditConfig `yaml:"audit"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimit is the sustained per-IP request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous per-IP burst.
	RateBurst int `yaml:"rate_burst"`
	// MaxUploadMB bounds the total size of one multipart upload, in MiB.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// DataConfig holds storage location settings.
type DataConfig struct {
	// Dir is the metadata directory holding the JSON collections and
	// content overflow files. Defaults to ~/.notebookd.
	Dir string `yaml:"dir"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ModelConfig holds chat model tuning shared by all notebooks.
type ModelConfig struct {
	// MaxTokens is the maximum number of tokens in a response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
}

// AuditConfig holds document-event log settings.
type AuditConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"NOTEBOOKD_HOST", func(c *Config) string { return c.Server.Host }},
	{"NOTEBOOKD_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"NOTEBOOKD_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"NOTEBOOKD_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"NOTEBOOKD_MAX_UPLOAD_MB", func(c *Config) string { return intStr(c.Server.MaxUploadMB) }},
	{"NOTEBOOKD_DATA_DIR", func(c *Config) string { return c.Data.Dir }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return floatStr(float64(c.Model.Temperature)) }},
	{"NOTEBOOKD_AUDIT_DB", func(c *Config) string { return c.Audit.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// FromEnv materializes the effective service configuration from the current
// environment, falling back to defaults for anything unset. Call after Load
// so YAML values have been overlaid.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Host:        envStr("NOTEBOOKD_HOST", "127.0.0.1"),
			Port:        envInt("NOTEBOOKD_PORT", 8087),
			RateLimit:   envFloat("NOTEBOOKD_RATE_LIMIT", 10),
			RateBurst:   envInt("NOTEBOOKD_RATE_BURST", 20),
			MaxUploadMB: envInt("NOTEBOOKD_MAX_UPLOAD_MB", 64),
		},
		Data: DataConfig{
			Dir: envStr("NOTEBOOKD_DATA_DIR", ""),
		},
		Qdrant: QdrantConfig{
			Host:   envStr("QDRANT_HOST", "localhost"),
			Port:   envInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			TLS:    os.Getenv("QDRANT_TLS") == "true",
		},
		Model: ModelConfig{
			MaxTokens:   envInt("MODEL_MAX_TOKENS", 0),
			Temperature: float32(envFloat("MODEL_TEMPERATURE", 0)),
		},
		Audit: AuditConfig{
			DBPath: os.Getenv("NOTEBOOKD_AUDIT_DB"),
		},
	}
}

// DefaultDataDir resolves the default metadata directory (~/.notebookd).
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".notebookd"), nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("NOTEBOOKD_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".notebookd", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("notebookd.yaml"); err == nil {
		return "notebookd.yaml"
	}

	return ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
