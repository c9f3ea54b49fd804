// Package server implements the HTTP API for the notebook service: notebook
// CRUD, document upload and retry, query, chat, and summaries, plus the
// operational endpoints (health, readiness, metrics).
// The server is started by the `notebookd serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/ingest"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/store"
)

// defaultMaxUploadBytes bounds a multipart upload when the config is silent.
const defaultMaxUploadBytes = 64 << 20

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8087
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// A query may walk the whole fallback ladder against a slow local
		// model before responding.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Extract == nil {
		deps.Extract = ExtractText
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer := prometheus.DefaultGatherer
	if cfg.MetricsRegistry != nil {
		reg = cfg.MetricsRegistry
		gatherer = cfg.MetricsRegistry
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		content:   deps.Content,
		pipeline:  deps.Pipeline,
		queries:   deps.Orchestrator,
		summaries: deps.Summaries,
		engines:   deps.Engines,
		audit:     deps.Audit,
		extract:   deps.Extract,
		metrics:   newServerMetrics(reg),
		log:       log,
		pingers:   cfg.Pingers,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notebooks", s.handleCreateNotebook)
	mux.HandleFunc("GET /notebooks", s.handleListNotebooks)
	mux.HandleFunc("GET /notebooks/{id}", s.handleGetNotebook)
	mux.HandleFunc("DELETE /notebooks/{id}", s.handleDeleteNotebook)

	mux.HandleFunc("POST /notebooks/{id}/documents", s.handleUploadDocuments)
	mux.HandleFunc("GET /notebooks/{id}/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /notebooks/{id}/documents/{docId}", s.handleDeleteDocument)
	mux.HandleFunc("POST /notebooks/{id}/documents/{docId}/retry", s.handleRetryDocument)

	mux.HandleFunc("POST /notebooks/{id}/query", s.handleQuery)
	mux.HandleFunc("POST /notebooks/{id}/query/template/{templateId}", s.handleQueryTemplate)
	mux.HandleFunc("GET /query-templates", s.handleQueryTemplates)

	mux.HandleFunc("POST /notebooks/{id}/summary", s.handleSummary)
	mux.HandleFunc("POST /notebooks/{id}/summary/detailed", s.handleDetailedSummary)

	mux.HandleFunc("POST /notebooks/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /notebooks/{id}/chat/history", s.handleChatHistory)
	mux.HandleFunc("DELETE /notebooks/{id}/chat/history", s.handleClearChatHistory)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	handler := requestLogger(log, rl.middleware(s.metricsMiddleware(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// ExtractText is the default Extractor: the upload is treated as UTF-8 plain
// text. Binary uploads are rejected rather than indexed as garbage.
func ExtractText(filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("server: %s is not valid UTF-8 text", filename)
	}
	return string(data), nil
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}

// writeError maps an error to its HTTP status per the failure taxonomy:
// unknown resources 404, configuration and invalid-state problems 400,
// everything else 500 with the error text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	status := http.StatusInternalServerError
	var cfgErr *provider.ConfigError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &cfgErr), errors.Is(err, ingest.ErrNotRetryable):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Error("request failed", slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.Any("error", err))
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// badRequest reports a request validation failure.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
