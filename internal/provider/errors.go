package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConfigError reports an unusable backend declaration (missing or
// placeholder credential, malformed address). It is a client error — the
// request is never sent.
type ConfigError struct {
	// Reason is a human-readable explanation suitable for an API response.
	Reason string
}

func (e *ConfigError) Error() string {
	return "provider: configuration error: " + e.Reason
}

// AuthError reports an authentication or authorisation failure from the
// backend. It is fatal: retrying with the same credential cannot succeed.
type AuthError struct {
	// Message is the backend's error text.
	Message string
}

func (e *AuthError) Error() string {
	return "provider: authentication failed: " + e.Message
}

// ModelNotFoundError reports that the backend does not serve the requested
// model. It is fatal — the operator has to fix the configuration.
type ModelNotFoundError struct {
	// Model is the requested model identifier.
	Model string
	// Message is the backend's error text.
	Message string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("provider: model %q not found: %s", e.Model, e.Message)
}

// TimeoutError reports that a provider operation exhausted its retry budget
// on timeouts or connection failures.
type TimeoutError struct {
	// Attempts is how many attempts were made before giving up.
	Attempts int
	// Err is the last observed error.
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider: operation timed out after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the last observed error for errors.Is/As.
func (e *TimeoutError) Unwrap() error { return e.Err }

// BatchTooLargeError reports that the backend rejected an embedding request
// for being too big. The retry client never retries it and never treats it
// as fatal — it re-raises it untouched so the adaptive embedder can shrink
// the batch or re-chunk the text.
type BatchTooLargeError struct {
	// BatchSize is the number of texts in the rejected request.
	BatchSize int
	// Message is the backend's error text.
	Message string
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("provider: batch of %d rejected as too large: %s", e.BatchSize, e.Message)
}

// IsBatchTooLarge reports whether err is (or wraps) a [BatchTooLargeError].
func IsBatchTooLarge(err error) bool {
	var e *BatchTooLargeError
	return errors.As(err, &e)
}

// IsFatal reports whether err is a failure that no amount of retrying can
// fix: bad credentials or a model the backend does not serve.
func IsFatal(err error) bool {
	var authErr *AuthError
	var nfErr *ModelNotFoundError
	return errors.As(err, &authErr) || errors.As(err, &nfErr)
}

// tooLargeFragments are backend message fragments that identify an oversized
// embedding request across the OpenAI-compatible and Ollama wire formats.
var tooLargeFragments = []string{
	"too large",
	"batch size",
	"too many inputs",
	"payload size",
	"input length exceeds",
}

// ClassifyHTTP converts a non-2xx embedding/completion response into the
// typed error taxonomy. batchSize is the number of inputs in the request
// (1 for completions).
func ClassifyHTTP(status int, message, model string, batchSize int) error {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403 ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "authentication"):
		return &AuthError{Message: message}
	case status == 404 || strings.Contains(lower, "not found"):
		return &ModelNotFoundError{Model: model, Message: message}
	case status == 413 || containsAny(lower, tooLargeFragments):
		return &BatchTooLargeError{BatchSize: batchSize, Message: message}
	default:
		return fmt.Errorf("provider: HTTP %d: %s", status, message)
	}
}

// ClassifyMessage applies the same taxonomy to an opaque error from an SDK
// call (no HTTP status available). Used for completion calls that go through
// the eino chat model rather than raw HTTP.
func ClassifyMessage(err error, model string) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "authentication"):
		return &AuthError{Message: err.Error()}
	case strings.Contains(lower, "not found") && strings.Contains(lower, "model"):
		return &ModelNotFoundError{Model: model, Message: err.Error()}
	default:
		return err
	}
}

// isRetryable reports whether a non-fatal, non-structural failure is worth
// another attempt: timeouts, connection failures, and the "model is still
// loading" class of message local servers emit during warm-up.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	lower := strings.ToLower(err.Error())
	return containsAny(lower, []string{
		"connection refused",
		"connection reset",
		"no such host",
		"unexpected eof",
		"loading",
		"model",
	})
}

// isTimeoutClass reports whether the final error of a retry loop should be
// surfaced as a [TimeoutError] rather than wrapped verbatim.
func isTimeoutClass(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout")
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
