// Package embedder converts text into dense vector embeddings. The concrete
// backends (OpenAI-compatible, Ollama) talk plain HTTP and classify failures
// into the provider error taxonomy so the retry client
// and the adaptive batcher can react to them. [Adaptive] wraps a backend and
// handles unknown backend size limits structurally.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/notebookd/notebookd/internal/provider"
)

// OpenAIEmbedder calls an OpenAI-style /embeddings endpoint. It covers both
// the official API and any OpenAI-compatible backend (including the local
// gateway). It is safe for concurrent use.
type OpenAIEmbedder struct {
	// cfg is the resolved provider configuration.
	cfg provider.Config
	// client is the shared HTTP client. Per-attempt deadlines come from the
	// retry client's context, so no client-level timeout is set here.
	client *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder for the given resolved config.
func NewOpenAIEmbedder(cfg provider.Config) *OpenAIEmbedder {
	return &OpenAIEmbedder{cfg: cfg, client: &http.Client{}}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai embedder: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, provider.ClassifyHTTP(resp.StatusCode, msg, e.cfg.Model, len(texts))
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
