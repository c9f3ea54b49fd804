package summary

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

type fakeRunner struct {
	answer   string
	mode     rag.Mode
	requests []query.Request
}

func (f *fakeRunner) Run(ctx context.Context, req query.Request) (query.Answer, error) {
	f.requests = append(f.requests, req)
	return query.Answer{Answer: f.answer, Mode: f.mode}, nil
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeRunner) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.CreateNotebook(store.Notebook{ID: "nb1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreateNotebook: %v", err)
	}
	runner := &fakeRunner{answer: "the corpus is about gophers", mode: rag.ModeHybrid}
	return New(st, runner, logging.Discard()), st, runner
}

func addCompleted(t *testing.T, st *store.Store, id string, uploadedAt time.Time) {
	t.Helper()
	err := st.AddDocument(store.Document{
		ID: id, NotebookID: "nb1", Filename: id + ".txt",
		UploadedAt: uploadedAt, Status: store.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
}

func TestFingerprintIgnoresOrderAndIncomplete(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := store.Document{ID: "a", UploadedAt: at, Status: store.StatusCompleted}
	b := store.Document{ID: "b", UploadedAt: at.Add(time.Hour), Status: store.StatusCompleted}
	pending := store.Document{ID: "c", UploadedAt: at, Status: store.StatusProcessing}

	fp1 := Fingerprint([]store.Document{a, b, pending})
	fp2 := Fingerprint([]store.Document{b, pending, a})
	if fp1 != fp2 {
		t.Errorf("fingerprint depends on order: %q vs %q", fp1, fp2)
	}
	if strings.Contains(fp1, "c:") {
		t.Errorf("fingerprint includes incomplete document: %q", fp1)
	}
	if fp1 != "a:2026-03-01T12:00:00Z|b:2026-03-01T13:00:00Z" {
		t.Errorf("fingerprint = %q", fp1)
	}

	if Fingerprint([]store.Document{pending}) != "" {
		t.Error("fingerprint of incomplete-only corpus should be empty")
	}
}

func TestGetOrRefreshNotReadyWithoutCompletedDocuments(t *testing.T) {
	t.Parallel()
	s, st, runner := newTestService(t)

	res, err := s.GetOrRefresh(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if res.Answer != NotReadyAnswer || res.Cached {
		t.Errorf("result = %+v, want not-ready and uncached", res)
	}
	if len(runner.requests) != 0 {
		t.Errorf("runner called %d times, want 0", len(runner.requests))
	}

	nb, _ := st.GetNotebook("nb1")
	if nb.SummaryCache != nil || nb.DocsFingerprint != "" {
		t.Errorf("not-ready answer was cached: %+v", nb)
	}
}

func TestGetOrRefreshComputesAndCaches(t *testing.T) {
	t.Parallel()
	s, st, runner := newTestService(t)
	addCompleted(t, st, "d1", time.Now().UTC())

	res, err := s.GetOrRefresh(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if res.Cached || res.Answer != "the corpus is about gophers" {
		t.Errorf("first result = %+v", res)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("runner called %d times, want 1", len(runner.requests))
	}
	req := runner.requests[0]
	if req.Mode != rag.ModeHybrid || req.ResponseFormat != rag.FormatSingleParagraph || req.TopK != summaryTopK {
		t.Errorf("summary query = %s/%s/%d", req.Mode, req.ResponseFormat, req.TopK)
	}

	// Unchanged corpus: served from cache, runner untouched.
	res, err = s.GetOrRefresh(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("second GetOrRefresh: %v", err)
	}
	if !res.Cached || res.Mode != rag.ModeHybrid {
		t.Errorf("second result = %+v, want cached with original mode", res)
	}
	if len(runner.requests) != 1 {
		t.Errorf("runner called %d times after cache hit, want 1", len(runner.requests))
	}
}

func TestGetOrRefreshRecomputesWhenCorpusChanges(t *testing.T) {
	t.Parallel()
	s, st, runner := newTestService(t)
	addCompleted(t, st, "d1", time.Now().UTC())

	if _, err := s.GetOrRefresh(context.Background(), "nb1"); err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	addCompleted(t, st, "d2", time.Now().UTC().Add(time.Second))

	res, err := s.GetOrRefresh(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("GetOrRefresh after change: %v", err)
	}
	if res.Cached {
		t.Error("stale cache served after corpus changed")
	}
	if len(runner.requests) != 2 {
		t.Errorf("runner called %d times, want 2", len(runner.requests))
	}
}

func TestDetailedIsNeverCached(t *testing.T) {
	t.Parallel()
	s, st, runner := newTestService(t)
	addCompleted(t, st, "d1", time.Now().UTC())

	for i := 0; i < 2; i++ {
		res, err := s.Detailed(context.Background(), "nb1", true, "long")
		if err != nil {
			t.Fatalf("Detailed %d: %v", i, err)
		}
		if len(res.SourceDocuments) != 1 || res.SourceDocuments[0] != "d1.txt" {
			t.Errorf("SourceDocuments = %v", res.SourceDocuments)
		}
	}
	if len(runner.requests) != 2 {
		t.Errorf("runner called %d times, want 2 (detailed is uncached)", len(runner.requests))
	}

	q := runner.requests[0].Question
	if !strings.Contains(q, "in-depth") || !strings.Contains(q, "specific facts") {
		t.Errorf("detailed question missing options: %q", q)
	}

	nb, _ := st.GetNotebook("nb1")
	if nb.SummaryCache != nil {
		t.Error("detailed summary wrote the cache")
	}
}

func TestDetailedShortUsesSingleParagraph(t *testing.T) {
	t.Parallel()
	s, st, runner := newTestService(t)
	addCompleted(t, st, "d1", time.Now().UTC())

	if _, err := s.Detailed(context.Background(), "nb1", false, "short"); err != nil {
		t.Fatalf("Detailed: %v", err)
	}
	if runner.requests[0].ResponseFormat != rag.FormatSingleParagraph {
		t.Errorf("format = %s, want Single Paragraph", runner.requests[0].ResponseFormat)
	}
}
