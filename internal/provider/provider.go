// Package provider resolves declared model backend configurations into a
// concrete calling convention and executes provider network operations under
// a class-specific retry policy.
//
// A backend declaration names a type, model, base address, and credential.
// Resolution derives the [Kind] — the official OpenAI API, a generic
// OpenAI-compatible endpoint, or a self-hosted model server — which selects
// auth rules, retry policy, and embedding batch behaviour downstream.
package provider

import (
	"net/url"
	"strings"
)

// Kind enumerates the resolved provider calling conventions.
type Kind string

const (
	// KindOpenAI is the official OpenAI API at api.openai.com.
	KindOpenAI Kind = "openai"
	// KindOpenAICompatible is any other endpoint speaking the OpenAI wire
	// format (vLLM, LM Studio, LiteLLM proxies, local gateways).
	KindOpenAICompatible Kind = "openai_compatible"
	// KindSelfHosted is a local model server speaking the Ollama wire format.
	KindSelfHosted Kind = "self_hosted"
)

// openAIOrigin is the public API origin that identifies KindOpenAI.
const openAIOrigin = "https://api.openai.com"

// DefaultLocalGatewayPort is the fixed port of the bundled local inference
// gateway. Endpoints on this port never require a credential.
const DefaultLocalGatewayPort = "8091"

// defaultOllamaBaseURL is used when a self-hosted declaration omits the
// base address.
const defaultOllamaBaseURL = "http://localhost:11434"

// placeholderKeys are credential values that count as "no credential".
// UIs and example configs ship these as fill-me-in markers.
var placeholderKeys = map[string]bool{
	"":             true,
	"your-api-key": true,
	"your_api_key": true,
	"changeme":     true,
	"none":         true,
	"null":         true,
	"sk-xxx":       true,
}

// RawConfig is a backend declaration as supplied by the caller (and as
// stored on a notebook record). Kind is not part of it — it is derived by
// [Resolve] at call time.
type RawConfig struct {
	// Type optionally forces the calling convention. "ollama", "self_hosted",
	// and "local" all mean a self-hosted server; anything else is detected
	// from the base address.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Name is a display label ("OpenAI GPT-4"). Informational only.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Model is the model identifier (e.g. "gpt-4o-mini", "nomic-embed-text").
	Model string `json:"model" yaml:"model"`
	// BaseURL is the backend base address. Optional for self-hosted servers.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIKey is the credential. Optional for self-hosted servers and the
	// local gateway.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// Config is an immutable resolved provider configuration. It is produced by
// [Resolve] once per call site and passed explicitly — callers never re-derive
// the kind.
type Config struct {
	// Kind is the resolved calling convention.
	Kind Kind
	// Model is the model identifier.
	Model string
	// BaseURL is the backend base address, normalised without a trailing slash.
	BaseURL string
	// APIKey is the credential. Empty for self-hosted and gateway endpoints.
	APIKey string
}

// Resolve derives the calling convention for a raw backend declaration.
//
// A declared self-hosted type passes through unchanged. Otherwise the base
// address decides: the known public OpenAI origin resolves to [KindOpenAI],
// anything else to [KindOpenAICompatible]. The local gateway (fixed port) is
// exempt from credential checks; every other non-self-hosted backend without
// a usable credential is a configuration error.
func Resolve(raw RawConfig) (Config, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw.BaseURL), "/")

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "ollama", "self_hosted", "self-hosted", "local":
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		return Config{
			Kind:    KindSelfHosted,
			Model:   raw.Model,
			BaseURL: baseURL,
			APIKey:  raw.APIKey,
		}, nil
	}

	kind := KindOpenAICompatible
	if strings.HasPrefix(baseURL, openAIOrigin) || baseURL == "" {
		kind = KindOpenAI
		if baseURL == "" {
			baseURL = openAIOrigin + "/v1"
		}
	}

	cfg := Config{
		Kind:    kind,
		Model:   raw.Model,
		BaseURL: baseURL,
		APIKey:  raw.APIKey,
	}

	if cfg.IsLocalGateway() {
		// The bundled gateway ignores credentials entirely.
		return cfg, nil
	}
	if placeholderKeys[strings.ToLower(strings.TrimSpace(raw.APIKey))] {
		return Config{}, &ConfigError{Reason: "backend " + baseURL + " requires an API key"}
	}
	return cfg, nil
}

// IsLocalGateway reports whether the base address points at the bundled
// local inference gateway (loopback host on the fixed gateway port).
func (c Config) IsLocalGateway() bool {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return false
	}
	return u.Port() == DefaultLocalGatewayPort
}

// IsLocal reports whether the backend runs on this machine: self-hosted
// servers and the local gateway. Local backends get the patient retry policy
// and the tighter ingestion content cap.
func (c Config) IsLocal() bool {
	return c.Kind == KindSelfHosted || c.IsLocalGateway()
}
