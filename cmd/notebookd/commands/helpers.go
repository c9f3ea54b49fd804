package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/notebookd/notebookd/internal/config"
	"github.com/notebookd/notebookd/internal/embedder"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/server"
	"github.com/notebookd/notebookd/internal/store"
)

// collectionName derives the per-notebook Qdrant collection name. Notebook
// IDs are UUIDs; the hyphens are kept since Qdrant allows them.
func collectionName(notebookID string) string {
	return "notebook_" + strings.ToLower(notebookID)
}

// engineFactory builds the per-notebook engine constructor used by the
// registry: each notebook gets a RAG engine wired to its own declared
// providers and its own Qdrant collection.
func engineFactory(st *store.Store, cfg config.Config, tuning provider.ChatTuning, log *slog.Logger) rag.EngineFactory {
	return func(ctx context.Context, notebookID string) (rag.Engine, error) {
		nb, err := st.GetNotebook(notebookID)
		if err != nil {
			return nil, err
		}
		llmCfg, err := provider.Resolve(nb.LLMProvider)
		if err != nil {
			return nil, fmt.Errorf("notebook %s llm provider: %w", notebookID, err)
		}
		return buildEngine(ctx, nb, llmCfg, cfg, tuning, log)
	}
}

// overrideFactory builds engines for requests that substitute the notebook's
// LLM provider for a single query. The embedding provider is never
// overridden: the vectors in the collection were produced by the notebook's
// own embedder and a different one would not be comparable.
func overrideFactory(st *store.Store, cfg config.Config, tuning provider.ChatTuning, log *slog.Logger) query.OverrideFactory {
	return func(ctx context.Context, notebookID string, llm provider.RawConfig) (rag.Engine, error) {
		nb, err := st.GetNotebook(notebookID)
		if err != nil {
			return nil, err
		}
		llmCfg, err := provider.Resolve(llm)
		if err != nil {
			return nil, fmt.Errorf("provider override: %w", err)
		}
		return buildEngine(ctx, nb, llmCfg, cfg, tuning, log)
	}
}

// buildEngine assembles one engine: chat model from the given LLM config,
// embedder from the notebook's embedding provider, vectors in the notebook's
// Qdrant collection.
func buildEngine(ctx context.Context, nb store.Notebook, llmCfg provider.Config, cfg config.Config, tuning provider.ChatTuning, log *slog.Logger) (rag.Engine, error) {
	embCfg, err := provider.Resolve(nb.EmbeddingProvider)
	if err != nil {
		return nil, fmt.Errorf("notebook %s embedding provider: %w", nb.ID, err)
	}

	chat, err := provider.NewChatModel(ctx, llmCfg, tuning)
	if err != nil {
		return nil, fmt.Errorf("notebook %s chat model: %w", nb.ID, err)
	}

	vectors, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: collectionName(nb.ID),
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.TLS,
	})
	if err != nil {
		return nil, err
	}

	return rag.NewEngine(embedder.New(embCfg, log), vectors, chat, log)
}

// buildPingers assembles the readiness probes for GET /ready. Qdrant is the
// only service-wide dependency; model backends are per-notebook and are
// probed by `notebookd diagnose` instead.
func buildPingers(cfg config.Config) ([]server.Pinger, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return []server.Pinger{server.NewQdrantPinger(client)}, nil
}
