package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
	"github.com/notebookd/notebookd/internal/summary"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8087).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must be
	// long enough for a full trip down the query fallback ladder.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready.
	// If empty, /ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP (requests/second).
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// the global registry; tests inject a fresh one.
	MetricsRegistry *prometheus.Registry
	// MaxUploadBytes bounds the total size of one multipart upload.
	// Defaults to 64 MiB.
	MaxUploadBytes int64
}

// ingester is the slice of the ingestion pipeline the handlers call.
// *ingest.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	Enqueue(notebookID, documentID string, index int)
	Retry(ctx context.Context, documentID string) (store.Document, error)
}

// runner executes query requests. *query.Orchestrator satisfies it.
type runner interface {
	Run(ctx context.Context, req query.Request) (query.Answer, error)
}

// summarizer produces notebook summaries. *summary.Service satisfies it.
type summarizer interface {
	GetOrRefresh(ctx context.Context, notebookID string) (summary.Result, error)
	Detailed(ctx context.Context, notebookID string, includeDetails bool, maxLength string) (summary.DetailedResult, error)
}

// engineSource resolves and evicts per-notebook engines. *rag.Registry
// satisfies it.
type engineSource interface {
	Get(ctx context.Context, notebookID string) (rag.Engine, error)
	Drop(notebookID string)
}

// Extractor converts an uploaded file into plain text. The default treats
// the bytes as UTF-8 text; richer format support plugs in here.
type Extractor func(filename string, data []byte) (string, error)

// Deps bundles the components the server orchestrates.
type Deps struct {
	Store        *store.Store
	Content      *store.ContentCache
	Pipeline     ingester
	Orchestrator runner
	Summaries    summarizer
	Engines      engineSource
	Audit        audit.Log
	Extract      Extractor
}

// Server is the HTTP server for the notebook API.
type Server struct {
	cfg        *Config
	store      *store.Store
	content    *store.ContentCache
	pipeline   ingester
	queries    runner
	summaries  summarizer
	engines    engineSource
	audit      audit.Log
	extract    Extractor
	metrics    *serverMetrics
	log        *slog.Logger
	httpServer *http.Server
	pingers    []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createNotebookRequest is the JSON body for POST /notebooks.
type createNotebookRequest struct {
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	LLMProvider       provider.RawConfig `json:"llm_provider"`
	EmbeddingProvider provider.RawConfig `json:"embedding_provider"`
}

// queryRequest is the JSON body for POST /notebooks/{id}/query.
type queryRequest struct {
	Question         string              `json:"question"`
	Mode             string              `json:"mode,omitempty"`
	ResponseFormat   string              `json:"response_format,omitempty"`
	TopK             int                 `json:"top_k,omitempty"`
	ProviderOverride *provider.RawConfig `json:"provider_override,omitempty"`
}

// queryResponse is the JSON response for query and template execution.
type queryResponse struct {
	Answer    string           `json:"answer"`
	Mode      string           `json:"mode"`
	Citations []store.Citation `json:"citations"`
}

// chatRequest is the JSON body for POST /notebooks/{id}/chat.
type chatRequest struct {
	Question       string `json:"question"`
	Mode           string `json:"mode,omitempty"`
	UseChatHistory bool   `json:"use_chat_history,omitempty"`
}

// chatResponse is the JSON response for the chat and template endpoints.
type chatResponse struct {
	Answer          string           `json:"answer"`
	Mode            string           `json:"mode"`
	Citations       []store.Citation `json:"citations"`
	ChatContextUsed bool             `json:"chat_context_used"`
}

// summaryResponse is the JSON response for POST /notebooks/{id}/summary.
type summaryResponse struct {
	Summary string `json:"summary"`
	Mode    string `json:"mode"`
	Cached  bool   `json:"cached"`
}

// detailedSummaryRequest is the JSON body for POST /notebooks/{id}/summary/detailed.
type detailedSummaryRequest struct {
	IncludeDetails bool   `json:"include_details,omitempty"`
	MaxLength      string `json:"max_length,omitempty"`
}

// detailedSummaryResponse is the JSON response for the detailed summary.
type detailedSummaryResponse struct {
	Summary         string           `json:"summary"`
	Mode            string           `json:"mode"`
	SourceDocuments []string         `json:"source_documents"`
	Citations       []store.Citation `json:"citations"`
}

// retryResponse is the JSON response for POST .../documents/{docId}/retry.
type retryResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}
