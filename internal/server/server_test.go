package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notebookd/notebookd/internal/ingest"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
	"github.com/notebookd/notebookd/internal/summary"
)

type enqueueCall struct {
	notebookID string
	documentID string
	index      int
}

type fakeIngester struct {
	enqueued []enqueueCall
	retryDoc store.Document
	retryErr error
}

func (f *fakeIngester) Enqueue(notebookID, documentID string, index int) {
	f.enqueued = append(f.enqueued, enqueueCall{notebookID, documentID, index})
}

func (f *fakeIngester) Retry(ctx context.Context, documentID string) (store.Document, error) {
	if f.retryErr != nil {
		return store.Document{}, f.retryErr
	}
	return f.retryDoc, nil
}

type fakeRunner struct {
	answer  query.Answer
	err     error
	lastReq query.Request
}

func (f *fakeRunner) Run(ctx context.Context, req query.Request) (query.Answer, error) {
	f.lastReq = req
	if f.err != nil {
		return query.Answer{}, f.err
	}
	return f.answer, nil
}

type fakeSummarizer struct {
	result   summary.Result
	detailed summary.DetailedResult
}

func (f *fakeSummarizer) GetOrRefresh(ctx context.Context, notebookID string) (summary.Result, error) {
	return f.result, nil
}

func (f *fakeSummarizer) Detailed(ctx context.Context, notebookID string, includeDetails bool, maxLength string) (summary.DetailedResult, error) {
	return f.detailed, nil
}

type fakeEngines struct {
	dropped []string
}

func (f *fakeEngines) Get(ctx context.Context, notebookID string) (rag.Engine, error) {
	return nil, errors.New("no engine configured")
}

func (f *fakeEngines) Drop(notebookID string) { f.dropped = append(f.dropped, notebookID) }

type fixture struct {
	srv       *Server
	store     *store.Store
	ingester  *fakeIngester
	runner    *fakeRunner
	summaries *fakeSummarizer
	engines   *fakeEngines
}

func newTestServer(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	log := logging.Discard()

	st, err := store.Open(t.TempDir(), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	f := &fixture{
		store:     st,
		ingester:  &fakeIngester{},
		runner:    &fakeRunner{answer: query.Answer{Answer: "the answer", Mode: rag.ModeHybrid}},
		summaries: &fakeSummarizer{},
		engines:   &fakeEngines{},
	}

	cfg := &Config{
		Logger:          log,
		MetricsRegistry: prometheus.NewRegistry(),
		RateLimit:       1000,
		RateBurst:       1000,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(Deps{
		Store:        st,
		Content:      store.NewContentCache(t.TempDir(), log),
		Pipeline:     f.ingester,
		Orchestrator: f.runner,
		Summaries:    f.summaries,
		Engines:      f.engines,
	}, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *fixture) addNotebook(t *testing.T, id string) store.Notebook {
	t.Helper()
	nb := store.Notebook{
		ID:                id,
		Name:              "notes",
		LLMProvider:       provider.RawConfig{Type: "self_hosted", Model: "llama3.2:3b"},
		EmbeddingProvider: provider.RawConfig{Type: "self_hosted", Model: "nomic-embed-text"},
	}
	if err := f.store.CreateNotebook(nb); err != nil {
		t.Fatalf("create notebook: %v", err)
	}
	return nb
}

func TestCreateNotebookValidatesAndPersists(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	rec := f.do(t, http.MethodPost, "/notebooks", createNotebookRequest{
		Name:              "research",
		LLMProvider:       provider.RawConfig{Type: "ollama", Model: "llama3.2:3b"},
		EmbeddingProvider: provider.RawConfig{Type: "ollama", Model: "nomic-embed-text"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	nb := decodeBody[store.Notebook](t, rec)
	if nb.ID == "" || nb.Name != "research" {
		t.Errorf("unexpected notebook: %+v", nb)
	}

	if _, err := f.store.GetNotebook(nb.ID); err != nil {
		t.Errorf("notebook not persisted: %v", err)
	}
}

func TestCreateNotebookRejectsMissingName(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	rec := f.do(t, http.MethodPost, "/notebooks", createNotebookRequest{
		LLMProvider: provider.RawConfig{Type: "ollama", Model: "m"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateNotebookRejectsPlaceholderKey(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	rec := f.do(t, http.MethodPost, "/notebooks", createNotebookRequest{
		Name:              "bad",
		LLMProvider:       provider.RawConfig{Model: "gpt-4o", BaseURL: "https://api.example.com/v1"},
		EmbeddingProvider: provider.RawConfig{Type: "ollama", Model: "nomic-embed-text"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func multipartUpload(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadDocumentsEnqueuesEachFile(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	body, contentType := multipartUpload(t, map[string][]byte{
		"one.txt":   []byte("first document"),
		"two.txt":   []byte("second document"),
		"three.txt": []byte("third document"),
	})
	req := httptest.NewRequest(http.MethodPost, "/notebooks/nb1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	docs := decodeBody[[]store.Document](t, rec)
	if len(docs) != 3 {
		t.Fatalf("documents = %d, want 3", len(docs))
	}
	for _, doc := range docs {
		if doc.Status != store.StatusProcessing {
			t.Errorf("document %s status = %q", doc.Filename, doc.Status)
		}
	}

	if len(f.ingester.enqueued) != 3 {
		t.Fatalf("enqueued = %d, want 3", len(f.ingester.enqueued))
	}
	for i, call := range f.ingester.enqueued {
		if call.index != i || call.notebookID != "nb1" {
			t.Errorf("enqueue[%d] = %+v", i, call)
		}
	}

	nb, _ := f.store.GetNotebook("nb1")
	if nb.DocumentCount != 3 {
		t.Errorf("document count = %d, want 3", nb.DocumentCount)
	}
}

func TestUploadRecordsBinaryFileAsFailed(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	body, contentType := multipartUpload(t, map[string][]byte{
		"blob.bin": {0xff, 0xfe, 0x00, 0x01},
	})
	req := httptest.NewRequest(http.MethodPost, "/notebooks/nb1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	docs := decodeBody[[]store.Document](t, rec)
	if len(docs) != 1 || docs[0].Status != store.StatusFailed {
		t.Fatalf("unexpected documents: %+v", docs)
	}
	if docs[0].Error == "" {
		t.Error("failed document carries no error message")
	}
	if len(f.ingester.enqueued) != 0 {
		t.Errorf("failed upload was enqueued: %+v", f.ingester.enqueued)
	}
}

func TestUploadRejectedFileDoesNotConsumeStaggerSlot(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	// Part order matters here: the rejected file comes first, and the
	// accepted files behind it must still get stagger positions 0 and 1.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range []struct {
		name string
		data []byte
	}{
		{"blob.bin", []byte{0xff, 0xfe, 0x00, 0x01}},
		{"one.txt", []byte("first accepted document")},
		{"two.txt", []byte("second accepted document")},
	} {
		part, err := mw.CreateFormFile("files", p.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(p.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/notebooks/nb1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	docs := decodeBody[[]store.Document](t, rec)
	if len(docs) != 3 || docs[0].Status != store.StatusFailed {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	if len(f.ingester.enqueued) != 2 {
		t.Fatalf("enqueued = %d, want 2", len(f.ingester.enqueued))
	}
	for i, call := range f.ingester.enqueued {
		if call.index != i {
			t.Errorf("enqueue[%d] has stagger index %d, want %d", i, call.index, i)
		}
	}
}

func TestUploadUnknownNotebook(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	body, contentType := multipartUpload(t, map[string][]byte{"a.txt": []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/notebooks/missing/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteDocumentInvalidatesSummaryCache(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	if err := f.store.AddDocument(store.Document{ID: "d1", NotebookID: "nb1", Filename: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpdateNotebook("nb1", func(n *store.Notebook) {
		n.SummaryCache = &store.SummaryCache{Answer: "old", Fingerprint: "fp"}
		n.DocsFingerprint = "fp"
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodDelete, "/notebooks/nb1/documents/d1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := f.store.GetDocument("d1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("document survives delete: %v", err)
	}
	nb, _ := f.store.GetNotebook("nb1")
	if nb.SummaryCache != nil || nb.DocsFingerprint != "" {
		t.Errorf("summary cache not invalidated: %+v", nb)
	}
}

func TestDeleteDocumentFromWrongNotebook(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	f.addNotebook(t, "nb2")
	if err := f.store.AddDocument(store.Document{ID: "d1", NotebookID: "nb1", Filename: "a.txt"}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodDelete, "/notebooks/nb2/documents/d1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRetryNotRetryableIsBadRequest(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	if err := f.store.AddDocument(store.Document{ID: "d1", NotebookID: "nb1", Status: store.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	f.ingester.retryErr = fmt.Errorf("ingest: document d1 is completed, not failed: %w", ingest.ErrNotRetryable)

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/documents/d1/retry", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRetryFailedDocument(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	if err := f.store.AddDocument(store.Document{ID: "d1", NotebookID: "nb1", Status: store.StatusFailed}); err != nil {
		t.Fatal(err)
	}
	f.ingester.retryDoc = store.Document{ID: "d1", NotebookID: "nb1", Status: store.StatusProcessing}

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/documents/d1/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[retryResponse](t, rec)
	if resp.DocumentID != "d1" || resp.Status != "processing" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestQueryReturnsAnswerAndCitations(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	f.runner.answer = query.Answer{
		Answer:    "42",
		Mode:      rag.ModeLocal,
		Citations: []store.Citation{{Filename: "a.txt", Title: "A"}},
	}

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/query", queryRequest{
		Question: "what is the answer?",
		Mode:     "global",
		TopK:     7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[queryResponse](t, rec)
	if resp.Answer != "42" || resp.Mode != "local" || len(resp.Citations) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	if f.runner.lastReq.Mode != rag.ModeGlobal || f.runner.lastReq.TopK != 7 {
		t.Errorf("request not forwarded: %+v", f.runner.lastReq)
	}
	if len(f.runner.lastReq.History) != 0 {
		t.Errorf("plain query carried history: %+v", f.runner.lastReq.History)
	}
}

func TestQueryRequiresQuestion(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/query", queryRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryTemplatesCatalog(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	rec := f.do(t, http.MethodGet, "/query-templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	templates := decodeBody[[]query.Template](t, rec)
	if len(templates) == 0 {
		t.Fatal("empty template catalog")
	}
}

func TestQueryTemplateRunsAsChatTurn(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/query/template/key_topics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if f.runner.lastReq.Mode != rag.ModeGlobal {
		t.Errorf("template mode not applied: %+v", f.runner.lastReq)
	}
	if !strings.Contains(f.runner.lastReq.Question, "key topics") {
		t.Errorf("template question not used: %q", f.runner.lastReq.Question)
	}

	history := f.store.ChatHistory("nb1")
	if len(history) != 2 || history[1].Role != store.RoleAssistant {
		t.Errorf("exchange not recorded: %+v", history)
	}
}

func TestQueryTemplateUnknown(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/query/template/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatCarriesHistoryWhenAsked(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	first := f.do(t, http.MethodPost, "/notebooks/nb1/chat", chatRequest{
		Question: "first question", UseChatHistory: true,
	})
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	if resp := decodeBody[chatResponse](t, first); resp.ChatContextUsed {
		t.Error("first turn reported chat context")
	}

	second := f.do(t, http.MethodPost, "/notebooks/nb1/chat", chatRequest{
		Question: "and then?", UseChatHistory: true,
	})
	resp := decodeBody[chatResponse](t, second)
	if !resp.ChatContextUsed {
		t.Error("second turn did not report chat context")
	}
	if len(f.runner.lastReq.History) != 2 {
		t.Errorf("history length = %d, want 2", len(f.runner.lastReq.History))
	}
}

func TestChatHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	f.do(t, http.MethodPost, "/notebooks/nb1/chat", chatRequest{Question: "hello"})

	rec := f.do(t, http.MethodGet, "/notebooks/nb1/chat/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		NotebookID string              `json:"notebook_id"`
		Messages   []store.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.Messages))
	}

	if rec := f.do(t, http.MethodDelete, "/notebooks/nb1/chat/history", nil); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if got := f.store.ChatHistory("nb1"); len(got) != 0 {
		t.Errorf("history survives clear: %+v", got)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	f.summaries.result = summary.Result{Answer: "a summary", Mode: rag.ModeHybrid, Cached: true}

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[summaryResponse](t, rec)
	if resp.Summary != "a summary" || !resp.Cached || resp.Mode != "hybrid" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDetailedSummaryEndpoint(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")
	f.summaries.detailed = summary.DetailedResult{
		Answer:          "lots of detail",
		Mode:            rag.ModeHybrid,
		SourceDocuments: []string{"a.txt"},
	}

	rec := f.do(t, http.MethodPost, "/notebooks/nb1/summary/detailed", detailedSummaryRequest{
		IncludeDetails: true, MaxLength: "long",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[detailedSummaryResponse](t, rec)
	if resp.Summary != "lots of detail" || len(resp.SourceDocuments) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDeleteNotebookDropsEngine(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)
	f.addNotebook(t, "nb1")

	rec := f.do(t, http.MethodDelete, "/notebooks/nb1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.engines.dropped) != 1 || f.engines.dropped[0] != "nb1" {
		t.Errorf("engine not dropped: %+v", f.engines.dropped)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

type staticPinger struct {
	name string
	err  error
}

func (p staticPinger) Name() string               { return p.name }
func (p staticPinger) Ping(context.Context) error { return p.err }

func TestReadyReportsFailingDependency(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, func(cfg *Config) {
		cfg.Pingers = []Pinger{
			staticPinger{name: "qdrant"},
			staticPinger{name: "llm", err: errors.New("connection refused")},
		}
	})

	rec := f.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = 1
		cfg.RateBurst = 1
	})

	first := f.do(t, http.MethodGet, "/health", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := f.do(t, http.MethodGet, "/health", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
