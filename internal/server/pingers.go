package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/notebookd/notebookd/internal/provider"
)

// ProviderPinger probes an LLM or embedding backend using its zero-cost
// health endpoint. It satisfies the Pinger interface and is used by
// GET /ready and by `notebookd diagnose`.
type ProviderPinger struct {
	cfg  provider.Config
	name string
}

// NewProviderPinger constructs a ProviderPinger for the given resolved
// provider config and label.
func NewProviderPinger(cfg provider.Config, name string) *ProviderPinger {
	return &ProviderPinger{cfg: cfg, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *ProviderPinger) Name() string { return p.name }

// Ping probes the backend's model listing endpoint. No tokens are consumed.
func (p *ProviderPinger) Ping(ctx context.Context) error {
	if err := p.cfg.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}
