package rag

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// chunkSize and chunkOverlap control how inserted text is split before
	// embedding.
	chunkSize    = 1000
	chunkOverlap = 100

	// defaultTopK is the retrieval depth when the caller passes 0.
	defaultTopK = 5

	// queryCacheTTL bounds how long an identical query returns the cached
	// answer.
	queryCacheTTL = 5 * time.Minute
)

// vectorStore is the slice of QdrantStore the engine depends on. Kept as an
// interface so tests can substitute an in-memory fake.
type vectorStore interface {
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Chunk, error)
	DeleteByRef(ctx context.Context, ref string) error
	Close() error
}

// DefaultEngine is the built-in Engine: chunks and embeds inserted text into
// a vector store, and answers queries by retrieving chunks and calling a
// chat model. Vector similarity itself lives in the store.
type DefaultEngine struct {
	embedder Embedder
	store    vectorStore
	chat     model.ToolCallingChatModel
	cache    *gocache.Cache
	log      *slog.Logger
}

// NewEngine constructs a DefaultEngine over the given components.
func NewEngine(embedder Embedder, store vectorStore, chat model.ToolCallingChatModel, log *slog.Logger) (*DefaultEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("rag: chat model must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &DefaultEngine{
		embedder: embedder,
		store:    store,
		chat:     chat,
		cache:    gocache.New(queryCacheTTL, 2*queryCacheTTL),
		log:      log,
	}, nil
}

// Insert chunks, embeds, and indexes text under ref. Cached query answers
// are dropped since the corpus changed.
func (e *DefaultEngine) Insert(ctx context.Context, ref, text string) error {
	pieces := splitText(text, chunkSize, chunkOverlap)
	if len(pieces) == 0 {
		return fmt.Errorf("rag: no content to index for %s", ref)
	}

	embeddings, err := e.embedder.Embed(ctx, pieces)
	if err != nil {
		return fmt.Errorf("rag: embedding %d chunks for %s: %w", len(pieces), ref, err)
	}

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{Ref: ref, Content: piece}
	}
	if err := e.store.Upsert(ctx, chunks, embeddings); err != nil {
		return fmt.Errorf("rag: indexing %s: %w", ref, err)
	}

	e.cache.Flush()
	return nil
}

// Query retrieves relevant chunks and asks the chat model. Context-window
// failures are classified into ErrContextSizeExceeded for the caller's
// fallback ladder.
func (e *DefaultEngine) Query(ctx context.Context, question string, params QueryParams) (string, error) {
	if params.TopK <= 0 {
		params.TopK = defaultTopK
	}
	if params.ResponseFormat == "" {
		params.ResponseFormat = FormatMultipleParagraphs
	}

	key := queryKey(question, params)
	if key != "" {
		if cached, ok := e.cache.Get(key); ok {
			return cached.(string), nil
		}
	}

	embeddings, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", fmt.Errorf("rag: embedding question: %w", err)
	}
	if len(embeddings) == 0 {
		return "", fmt.Errorf("rag: embedder returned empty result for question")
	}

	chunks, err := e.store.Search(ctx, embeddings[0], retrieveDepth(params))
	if err != nil {
		return "", fmt.Errorf("rag: retrieval failed: %w", err)
	}

	messages := make([]*schema.Message, 0, len(params.History)+2)
	messages = append(messages, schema.SystemMessage(buildPrompt(chunks, params)))
	messages = append(messages, params.History...)
	messages = append(messages, schema.UserMessage(question))

	resp, err := e.chat.Generate(ctx, messages)
	if err != nil {
		return "", classifyModelError(err)
	}

	if key != "" {
		e.cache.Set(key, resp.Content, queryCacheTTL)
	}
	return resp.Content, nil
}

// DeleteByRef removes everything indexed under ref and drops cached answers.
func (e *DefaultEngine) DeleteByRef(ctx context.Context, ref string) error {
	if err := e.store.DeleteByRef(ctx, ref); err != nil {
		return err
	}
	e.cache.Flush()
	return nil
}

// ClearCache drops cached query answers.
func (e *DefaultEngine) ClearCache(ctx context.Context) error {
	e.cache.Flush()
	return nil
}

// Close releases the vector store connection.
func (e *DefaultEngine) Close() error {
	return e.store.Close()
}

// retrieveDepth widens retrieval for the corpus-level modes, which synthesise
// across the whole notebook rather than answering from a few chunks.
func retrieveDepth(params QueryParams) int {
	switch params.Mode {
	case ModeGlobal, ModeHybrid, ModeMix:
		return params.TopK * 2
	default:
		return params.TopK
	}
}

// buildPrompt assembles the system prompt from retrieved chunks, the mode's
// framing, and the requested answer shape.
func buildPrompt(chunks []Chunk, params QueryParams) string {
	var b strings.Builder
	b.WriteString("You are a knowledgeable assistant answering questions about the user's documents.\n")

	switch params.Mode {
	case ModeGlobal:
		b.WriteString("Synthesize themes across all of the provided material rather than answering from a single passage.\n")
	case ModeHybrid, ModeMix:
		b.WriteString("Combine specific passages with the broader themes of the provided material.\n")
	default:
		b.WriteString("Answer strictly from the provided passages.\n")
	}

	switch params.ResponseFormat {
	case FormatSingleParagraph:
		b.WriteString("Answer in a single paragraph.\n")
	case FormatBulletPoints:
		b.WriteString("Answer as concise bullet points.\n")
	default:
		b.WriteString("Answer in well-structured paragraphs.\n")
	}

	if len(chunks) == 0 {
		b.WriteString("\nNo relevant passages were found. Say so and do not invent content.\n")
		return b.String()
	}

	b.WriteString("\nRelevant passages:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, chunk.Content)
	}
	return b.String()
}

// queryKey derives the cache key for a question and its parameters.
func queryKey(question string, params QueryParams) string {
	// Chat calls carry history and must not be served from cache.
	if len(params.History) > 0 {
		return ""
	}
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d|%s", params.Mode, params.ResponseFormat, params.TopK, question)))
	return hex.EncodeToString(h[:])
}

// splitText splits text into overlapping chunks of at most size characters.
// The final chunk may be shorter; step is size minus overlap.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	step := size - overlap
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}
