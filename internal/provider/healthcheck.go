package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// healthCheckTimeout bounds a single readiness probe. Probes must never hit
// the generate/embed paths — they would consume tokens and stall on cold
// local models.
const healthCheckTimeout = 5 * time.Second

// HealthCheck probes the backend's cheapest listing endpoint: /api/tags for
// self-hosted servers, /models for OpenAI-style backends. It reports nil when
// the backend is reachable and willing to talk to us.
func (c Config) HealthCheck(ctx context.Context) error {
	url := c.BaseURL + "/models"
	if c.Kind == KindSelfHosted {
		url = c.BaseURL + "/api/tags"
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: backend %s unreachable: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: backend %s health check returned HTTP %d", c.BaseURL, resp.StatusCode)
	}
	return nil
}
