// Package rag defines the retrieval-augmented-generation surface the rest of
// the server programs against: the Engine interface, query parameters, and
// the error classes the orchestration layer reacts to. The built-in engine
// (Qdrant + a chat model) satisfies Engine, but nothing outside this package
// depends on that implementation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Mode selects the retrieval strategy for a query. Modes differ in how much
// of the corpus they pull into the model's context.
type Mode string

const (
	// ModeNaive is plain top-k chunk retrieval.
	ModeNaive Mode = "naive"
	// ModeLocal focuses retrieval on entities near the question.
	ModeLocal Mode = "local"
	// ModeGlobal retrieves corpus-wide themes; the most context-hungry mode.
	ModeGlobal Mode = "global"
	// ModeHybrid combines local and global retrieval.
	ModeHybrid Mode = "hybrid"
	// ModeMix blends vector retrieval with graph context.
	ModeMix Mode = "mix"
)

// Valid reports whether m is a recognised mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix:
		return true
	}
	return false
}

// ResponseFormat is the answer shape requested from the model.
type ResponseFormat string

const (
	FormatSingleParagraph    ResponseFormat = "Single Paragraph"
	FormatMultipleParagraphs ResponseFormat = "Multiple Paragraphs"
	FormatBulletPoints       ResponseFormat = "Bullet Points"
)

// QueryParams carries everything an Engine needs beyond the question itself.
type QueryParams struct {
	// Mode is the retrieval strategy.
	Mode Mode

	// ResponseFormat is the requested answer shape.
	ResponseFormat ResponseFormat

	// TopK is the number of chunks to retrieve. Zero means the engine's
	// default.
	TopK int

	// History is optional prior conversation, oldest first, prepended to
	// the model call. Used by the chat path.
	History []*schema.Message
}

// Engine indexes document text and answers questions against the index.
// Implementations must be safe to call from multiple goroutines.
type Engine interface {
	// Insert chunks, embeds, and indexes text under the given reference.
	// The reference is the caller's handle for later deletion.
	Insert(ctx context.Context, ref, text string) error

	// Query answers a question against the index.
	Query(ctx context.Context, question string, params QueryParams) (string, error)

	// DeleteByRef removes everything indexed under the reference.
	DeleteByRef(ctx context.Context, ref string) error

	// ClearCache drops any cached query results. Best effort.
	ClearCache(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}

// Embedder converts text into dense vector embeddings. The returned slice is
// parallel to the input. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrContextSizeExceeded marks a query failure caused by the assembled
// context not fitting the model's window. The query orchestrator reacts to
// this class by stepping down to a cheaper retrieval mode.
var ErrContextSizeExceeded = errors.New("rag: context size exceeded")

// contextSizeFragments are backend message substrings that indicate a
// context-window overflow. Wording varies per backend, so matching is loose.
var contextSizeFragments = []string{
	"context size",
	"context length",
	"context window",
	"maximum context",
	"too many tokens",
	"token limit",
	"exceeds the limit",
	"prompt is too long",
}

// IsContextSizeExceeded reports whether err belongs to the context-size
// failure class, either by sentinel or by message.
func IsContextSizeExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextSizeExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range contextSizeFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// classifyModelError promotes context-window failures to the sentinel so
// callers can match with errors.Is; everything else passes through wrapped.
func classifyModelError(err error) error {
	if err == nil {
		return nil
	}
	if IsContextSizeExceeded(err) {
		return fmt.Errorf("%w: %v", ErrContextSizeExceeded, err)
	}
	return err
}
