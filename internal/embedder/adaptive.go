package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/rag"
)

// interBatchPause is the minimum spacing between consecutive batch calls to
// the same backend, to stay under provider rate limits.
const interBatchPause = 500 * time.Millisecond

// Settings are the per-provider-class batching parameters.
type Settings struct {
	// BatchSize is the number of texts sent per embedding request.
	BatchSize int
	// Window is the character length of a re-chunk window for a single text
	// the backend rejects as too large.
	Window int
	// Overlap is the character overlap between consecutive windows.
	Overlap int
}

// SettingsFor returns the default batching parameters for a provider class.
// The local gateway serves one text at a time with wide windows; other
// self-hosted servers take small batches; remote APIs take up to 16.
func SettingsFor(cfg provider.Config) Settings {
	switch {
	case cfg.IsLocalGateway():
		return Settings{BatchSize: 1, Window: 400, Overlap: 50}
	case cfg.Kind == provider.KindSelfHosted:
		return Settings{BatchSize: 4, Window: 200, Overlap: 20}
	default:
		return Settings{BatchSize: 16, Window: 200, Overlap: 20}
	}
}

// Adaptive wraps a backend embedder and absorbs unknown backend size limits
// structurally. Oversized batches are halved and retried; a single text the
// backend still rejects is split into fixed-size overlapping windows whose
// vectors are averaged back into one vector of the same dimensionality.
// Input order and count are always preserved.
type Adaptive struct {
	// base performs one embedding request per call.
	base rag.Embedder
	// caller applies the provider-class retry policy to each request.
	caller *provider.Client
	// settings holds the batch size and window parameters.
	settings Settings
	// pacer spaces out consecutive batch requests.
	pacer *rate.Limiter
	// log records batch shrinks and window fallbacks.
	log *slog.Logger
}

// New constructs an Adaptive embedder for the resolved provider config,
// choosing the wire format (Ollama vs OpenAI-style) and the class defaults.
func New(cfg provider.Config, log *slog.Logger) *Adaptive {
	var base rag.Embedder
	if cfg.Kind == provider.KindSelfHosted {
		base = NewOllamaEmbedder(cfg)
	} else {
		base = NewOpenAIEmbedder(cfg)
	}
	return NewWithBackend(base, provider.NewClient(cfg, log), SettingsFor(cfg), log)
}

// NewWithBackend constructs an Adaptive embedder around an explicit backend
// and retry client. Tests inject fakes here.
func NewWithBackend(base rag.Embedder, caller *provider.Client, settings Settings, log *slog.Logger) *Adaptive {
	if settings.BatchSize < 1 {
		settings.BatchSize = 1
	}
	if settings.Window <= 0 {
		settings.Window = 200
	}
	if settings.Overlap < 0 || settings.Overlap >= settings.Window {
		settings.Overlap = settings.Window / 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adaptive{
		base:     base,
		caller:   caller,
		settings: settings,
		pacer:    rate.NewLimiter(rate.Every(interBatchPause), 1),
		log:      log,
	}
}

// Embed converts texts into embeddings, preserving input order and count.
func (a *Adaptive) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return a.embed(ctx, texts, a.settings.BatchSize)
}

// embed splits texts into consecutive batches of batchSize and embeds each
// sequentially with pacing in between.
func (a *Adaptive) embed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) <= batchSize {
		return a.embedBatch(ctx, texts, batchSize)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		if start > 0 {
			if err := a.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("embedder: pacing interrupted: %w", err)
			}
		}
		vecs, err := a.embedBatch(ctx, texts[start:end], batchSize)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatch embeds one batch, shrinking on a too-large rejection. The
// effective batch size strictly decreases on every rejection and never
// reaches zero: halving stops at 1, and a rejected single text falls back
// to per-window embedding.
func (a *Adaptive) embedBatch(ctx context.Context, batch []string, batchSize int) ([][]float32, error) {
	vecs, err := a.call(ctx, batch)
	if err == nil {
		return vecs, nil
	}
	if !provider.IsBatchTooLarge(err) {
		return nil, err
	}

	if len(batch) > 1 {
		// Halve relative to what was actually sent. The nominal size can be
		// much larger than the batch, and halving it alone would re-send the
		// rejected batch unchanged.
		half := min(batchSize, len(batch)) / 2
		a.log.Warn("embed batch rejected as too large, halving",
			slog.Int("batch_size", len(batch)),
			slog.Int("new_batch_size", half),
		)
		return a.embed(ctx, batch, half)
	}

	// A single text was rejected. If it is longer than one window, re-chunk
	// it; otherwise there is nothing left to shrink.
	text := batch[0]
	if chars := utf8.RuneCountInString(text); chars <= a.settings.Window {
		return nil, fmt.Errorf("embedder: single text of %d chars rejected by backend: %w", chars, err)
	}
	vec, err := a.embedWindowed(ctx, text)
	if err != nil {
		return nil, err
	}
	return [][]float32{vec}, nil
}

// embedWindowed splits one oversized text into overlapping windows, embeds
// each window individually, and averages the vectors element-wise. A window
// that still fails is fatal — embedding cannot proceed for this item.
func (a *Adaptive) embedWindowed(ctx context.Context, text string) ([]float32, error) {
	windows := windowText(text, a.settings.Window, a.settings.Overlap)
	a.log.Info("re-chunking oversized text into windows",
		slog.Int("text_chars", utf8.RuneCountInString(text)),
		slog.Int("windows", len(windows)),
		slog.Int("window", a.settings.Window),
		slog.Int("overlap", a.settings.Overlap),
	)

	vecs := make([][]float32, 0, len(windows))
	for i, w := range windows {
		if i > 0 {
			if err := a.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("embedder: pacing interrupted: %w", err)
			}
		}
		got, err := a.call(ctx, []string{w})
		if err != nil {
			return nil, fmt.Errorf("embedder: window %d/%d failed: %w", i+1, len(windows), err)
		}
		if len(got) != 1 {
			return nil, fmt.Errorf("embedder: window %d/%d: expected 1 vector, got %d", i+1, len(windows), len(got))
		}
		vecs = append(vecs, got[0])
	}
	return averageVectors(vecs)
}

// call performs one backend request under the retry policy.
func (a *Adaptive) call(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	err := a.caller.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		vecs, err = a.base.Embed(ctx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// windowText slices text into overlapping windows of the given size, measured
// in code points so multibyte content is never split mid-rune. The final
// window is clamped to the end of the text. A text of length L yields
// ceil((L - overlap) / (window - overlap)) windows.
func windowText(text string, window, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= window {
		return []string{text}
	}
	var windows []string
	step := window - overlap
	for start := 0; start < len(runes); start += step {
		end := min(start+window, len(runes))
		windows = append(windows, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return windows
}

// averageVectors reduces window vectors to one vector of identical
// dimensionality by element-wise arithmetic mean.
func averageVectors(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder: no vectors to average")
	}
	dims := len(vecs[0])
	sum := make([]float64, dims)
	for _, v := range vecs {
		if len(v) != dims {
			return nil, fmt.Errorf("embedder: dimension mismatch averaging vectors: %d vs %d", len(v), dims)
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dims)
	n := float64(len(vecs))
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out, nil
}
