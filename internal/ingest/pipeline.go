// Package ingest runs document ingestion in the background: each uploaded
// document is recorded as Processing, enqueued with a stagger delay, and
// embedded into the notebook's engine by a per-notebook worker. Workers for
// the same notebook serialize so a single local model server is never hit by
// concurrent inserts; different notebooks proceed independently.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

const (
	// staggerStep and staggerMax shape the per-document delay within one
	// upload batch: document i waits min(i*staggerStep, staggerMax) before
	// its job starts, spreading load on a single embedding backend.
	staggerStep = 3 * time.Second
	staggerMax  = 30 * time.Second

	// Content caps and overall ingestion timeouts per provider class. Local
	// backends get a tighter cap but a longer deadline, since a local model
	// may still be loading into memory.
	localContentCap  = 300_000
	localTimeout     = 30 * time.Minute
	remoteContentCap = 800_000
	remoteTimeout    = 15 * time.Minute

	// truncationMarker is appended when content exceeds the cap.
	truncationMarker = "\n\n[Content truncated due to size limits]"
)

// ErrNotRetryable reports a retry request for a document that is not in the
// Failed state.
var ErrNotRetryable = errors.New("ingest: document is not in a failed state")

// Pipeline schedules and runs ingestion jobs.
type Pipeline struct {
	store   *store.Store
	content *store.ContentCache
	engines *rag.Registry
	audit   audit.Log
	log     *slog.Logger

	// baseCtx is cancelled on shutdown; running jobs observe it through
	// their per-job deadline context.
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu guards workers.
	mu sync.Mutex
	// workers holds one serialized group per notebook.
	workers map[string]*errgroup.Group

	// wg tracks every scheduled job, including those still in their
	// stagger delay.
	wg sync.WaitGroup
}

// New constructs a Pipeline. Call Shutdown to drain it.
func New(st *store.Store, content *store.ContentCache, engines *rag.Registry, auditLog audit.Log, log *slog.Logger) *Pipeline {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:   st,
		content: content,
		engines: engines,
		audit:   auditLog,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
		workers: make(map[string]*errgroup.Group),
	}
}

// StaggerDelay returns the scheduling delay for the i-th document of an
// upload batch: 0s, 3s, 6s, ... capped at 30s.
func StaggerDelay(i int) time.Duration {
	d := time.Duration(i) * staggerStep
	if d > staggerMax {
		return staggerMax
	}
	return d
}

// Enqueue schedules ingestion of an already-recorded Processing document.
// index is the document's position within its upload batch and sets the
// stagger delay. Returns immediately.
func (p *Pipeline) Enqueue(notebookID, documentID string, index int) {
	delay := StaggerDelay(index)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-p.baseCtx.Done():
				return
			}
		}

		group := p.workerFor(notebookID)
		// The group is limited to one job; Go blocks until the previous
		// job for this notebook finishes, which is the serialization we
		// want. The surrounding goroutine keeps Enqueue non-blocking.
		group.Go(func() error {
			p.run(notebookID, documentID)
			return nil
		})
	}()
}

func (p *Pipeline) workerFor(notebookID string) *errgroup.Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	group, ok := p.workers[notebookID]
	if !ok {
		group = &errgroup.Group{}
		group.SetLimit(1)
		p.workers[notebookID] = group
	}
	return group
}

// Retry re-enqueues a Failed document. Documents in any other state are
// rejected with ErrNotRetryable.
func (p *Pipeline) Retry(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		return store.Document{}, err
	}
	if doc.Status != store.StatusFailed {
		return store.Document{}, fmt.Errorf("%w: document %s is %s", ErrNotRetryable, documentID, doc.Status)
	}

	doc, err = p.store.UpdateDocument(documentID, func(d *store.Document) {
		d.Status = store.StatusProcessing
		d.Error = ""
		d.FailedAt = nil
	})
	if err != nil {
		return store.Document{}, err
	}

	if err := p.audit.Record(ctx, audit.Event{
		NotebookID: doc.NotebookID, DocumentID: doc.ID, Name: audit.EventRetried,
	}); err != nil {
		p.log.Warn("audit record failed", slog.String("error", err.Error()))
	}

	p.Enqueue(doc.NotebookID, doc.ID, 0)
	return doc, nil
}

// Shutdown stops accepting new work and waits for scheduled jobs to finish
// their stagger delay or be cancelled. Running engine inserts finish under
// their own deadline.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[string]*errgroup.Group)
	p.mu.Unlock()
	for _, group := range workers {
		_ = group.Wait()
	}
}

// run executes one ingestion job to completion, recording the outcome on the
// document. One document's failure never affects its siblings.
func (p *Pipeline) run(notebookID, documentID string) {
	log := p.log.With(slog.String("notebook_id", notebookID), slog.String("document_id", documentID))

	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		// Deleted while waiting in the queue.
		log.Info("document gone before ingestion started")
		return
	}
	if doc.Status != store.StatusProcessing {
		log.Info("document no longer pending", slog.String("status", string(doc.Status)))
		return
	}

	nb, err := p.store.GetNotebook(notebookID)
	if err != nil {
		p.fail(documentID, "notebook was deleted before ingestion started")
		return
	}

	now := time.Now().UTC()
	if _, err := p.store.UpdateDocument(documentID, func(d *store.Document) {
		d.ProcessedAt = &now
	}); err != nil {
		log.Warn("recording processing start failed", slog.String("error", err.Error()))
	}
	p.recordEvent(notebookID, documentID, audit.EventProcessing, "")

	embedCfg, err := provider.Resolve(nb.EmbeddingProvider)
	if err != nil {
		p.fail(documentID, fmt.Sprintf("embedding provider misconfigured: %v", err))
		return
	}

	text, err := p.content.Get(doc)
	if err != nil {
		p.fail(documentID, fmt.Sprintf("document content unavailable: %v", err))
		return
	}

	contentCap, timeout := remoteContentCap, remoteTimeout
	if embedCfg.IsLocal() {
		contentCap, timeout = localContentCap, localTimeout
	}
	if len(text) > contentCap {
		log.Info("content truncated", slog.Int("original_chars", len(text)), slog.Int("cap", contentCap))
		text = truncate(text, contentCap)
	}

	ctx, cancelJob := context.WithTimeout(p.baseCtx, timeout)
	defer cancelJob()

	engine, err := p.engines.Get(ctx, notebookID)
	if err != nil {
		p.fail(documentID, classifyFailure(err))
		return
	}

	ref := engineRef(documentID, text)
	if err := engine.Insert(ctx, ref, text); err != nil {
		log.Warn("ingestion failed", slog.String("error", err.Error()))
		p.fail(documentID, classifyFailure(err))
		return
	}

	done := time.Now().UTC()
	if _, err := p.store.UpdateDocument(documentID, func(d *store.Document) {
		d.Status = store.StatusCompleted
		d.CompletedAt = &done
		d.EngineRef = ref
		d.Content = ""
		d.ContentOverflowFile = ""
	}); err != nil {
		log.Warn("recording completion failed", slog.String("error", err.Error()))
	}
	p.content.Drop(documentID)

	// The corpus changed; the cached summary is stale.
	if _, err := p.store.UpdateNotebook(notebookID, func(n *store.Notebook) {
		n.SummaryCache = nil
		n.DocsFingerprint = ""
	}); err != nil {
		log.Warn("clearing summary cache failed", slog.String("error", err.Error()))
	}

	p.recordEvent(notebookID, documentID, audit.EventCompleted, "")
	log.Info("document ingested", slog.String("engine_ref", ref))
}

// fail marks the document Failed with a human-readable message.
func (p *Pipeline) fail(documentID, message string) {
	now := time.Now().UTC()
	doc, err := p.store.UpdateDocument(documentID, func(d *store.Document) {
		d.Status = store.StatusFailed
		d.Error = message
		d.FailedAt = &now
	})
	if err != nil {
		p.log.Warn("recording failure failed",
			slog.String("document_id", documentID), slog.String("error", err.Error()))
		return
	}
	p.recordEvent(doc.NotebookID, documentID, audit.EventFailed, message)
}

func (p *Pipeline) recordEvent(notebookID, documentID, name, detail string) {
	err := p.audit.Record(p.baseCtx, audit.Event{
		NotebookID: notebookID, DocumentID: documentID, Name: name, Detail: detail,
	})
	if err != nil {
		p.log.Warn("audit record failed", slog.String("error", err.Error()))
	}
}

// engineRef derives the index reference for one ingestion attempt. The
// timestamp + content hash suffix keeps retries from colliding with stale
// vectors of a previous attempt.
func engineRef(documentID, text string) string {
	sum := sha1.Sum([]byte(text))
	return fmt.Sprintf("%s_%d_%s", documentID, time.Now().Unix(), hex.EncodeToString(sum[:4]))
}

// truncate cuts text at the content cap and appends the truncation marker.
// The cut backs off to a rune boundary so multibyte content is never split
// mid-character.
func truncate(text string, contentCap int) string {
	cut := contentCap
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker
}

// classifyFailure converts an ingestion error into the guidance message
// stored on the document.
func classifyFailure(err error) string {
	var authErr *provider.AuthError
	if errors.As(err, &authErr) {
		return "authentication with the embedding provider failed; check the configured credential"
	}
	var notFound *provider.ModelNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Sprintf("model %q was not found on the provider; check the model name", notFound.Model)
	}
	var timeoutErr *provider.TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return "the provider did not respond in time; it may be offline or still loading the model"
	}
	var tooLarge *provider.BatchTooLargeError
	if errors.As(err, &tooLarge) {
		return "the provider rejected the content as too large even after splitting; try a smaller document"
	}
	return err.Error()
}
