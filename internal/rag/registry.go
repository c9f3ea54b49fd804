package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// EngineFactory builds the engine for one notebook. The registry calls it
// lazily, on first use of that notebook's index.
type EngineFactory func(ctx context.Context, notebookID string) (Engine, error)

// Registry caches one Engine per notebook so repeated operations reuse the
// backend connection and query cache. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	engines map[string]Engine
	build   EngineFactory
	log     *slog.Logger
}

// NewRegistry returns a registry that builds engines with the given factory.
func NewRegistry(build EngineFactory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		engines: make(map[string]Engine),
		build:   build,
		log:     log,
	}
}

// Get returns the notebook's engine, constructing it on first use.
func (r *Registry) Get(ctx context.Context, notebookID string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eng, ok := r.engines[notebookID]; ok {
		return eng, nil
	}
	eng, err := r.build(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("rag: building engine for notebook %s: %w", notebookID, err)
	}
	r.engines[notebookID] = eng
	return eng, nil
}

// Drop closes and forgets the notebook's engine. Called when the notebook is
// deleted or its provider configuration changes.
func (r *Registry) Drop(notebookID string) {
	r.mu.Lock()
	eng, ok := r.engines[notebookID]
	delete(r.engines, notebookID)
	r.mu.Unlock()

	if ok {
		if err := eng.Close(); err != nil {
			r.log.Warn("engine close failed",
				slog.String("notebook_id", notebookID), slog.String("error", err.Error()))
		}
	}
}

// Close shuts down every cached engine.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]Engine)
	r.mu.Unlock()

	for id, eng := range engines {
		if err := eng.Close(); err != nil {
			r.log.Warn("engine close failed",
				slog.String("notebook_id", id), slog.String("error", err.Error()))
		}
	}
}
