package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the retry/timeout policy applied to one provider operation.
type Policy struct {
	// MaxAttempts is the hard cap on attempts, including the first.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration
}

// PolicyFor selects the retry policy for a provider class. Local model
// servers get a patient policy because the model may still be loading into
// memory on the first calls; remote APIs fail fast.
func PolicyFor(cfg Config) Policy {
	if cfg.IsLocal() {
		return Policy{MaxAttempts: 5, Delay: 10 * time.Second, AttemptTimeout: 180 * time.Second}
	}
	return Policy{MaxAttempts: 2, Delay: 3 * time.Second, AttemptTimeout: 60 * time.Second}
}

// Client executes single network operations against a provider backend under
// the class retry policy. It classifies failures: timeouts, connection
// failures, and warm-up messages are retried; auth and unknown-model failures
// abort immediately; "too large" rejections pass through untouched for the
// adaptive embedder to handle structurally.
//
// A Client is safe for concurrent use.
type Client struct {
	// policy is the resolved retry policy.
	policy Policy
	// log receives one warn entry per retried attempt.
	log *slog.Logger
}

// NewClient constructs a Client for the given resolved provider config.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{policy: PolicyFor(cfg), log: log}
}

// NewClientWithPolicy constructs a Client with an explicit policy.
// Tests use it to avoid multi-second sleeps.
func NewClientWithPolicy(policy Policy, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{policy: policy, log: log}
}

// Do runs fn under the retry policy. op names the operation for logs and
// error text (e.g. "embed", "complete"). Each attempt gets its own deadline;
// exhausting the budget returns a [TimeoutError] when the last failure was a
// timeout or connection error, otherwise the last error wrapped with the
// attempt count.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0

	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		// Structural and fatal failures are never retried. Too-large errors
		// must surface untouched — the adaptive embedder acts on them.
		if IsBatchTooLarge(err) || IsFatal(err) {
			return backoff.Permanent(err)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Warn("provider call failed, will retry",
			slog.String("op", op),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", c.policy.MaxAttempts),
			slog.String("error", err.Error()),
		)
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.policy.Delay), uint64(c.policy.MaxAttempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, bo)
	if err == nil {
		return nil
	}
	if IsBatchTooLarge(err) || IsFatal(err) {
		return err
	}
	if isTimeoutClass(err) {
		return &TimeoutError{Attempts: attempts, Err: err}
	}
	return fmt.Errorf("provider: %s failed after %d attempts: %w", op, attempts, err)
}
