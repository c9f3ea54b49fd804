package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

// ladderEngine fails with a context-size error until the attempt counter
// reaches succeedOn, recording the parameters of every attempt.
type ladderEngine struct {
	succeedOn int
	attempts  []rag.QueryParams
	failWith  error
}

func (e *ladderEngine) Query(ctx context.Context, question string, params rag.QueryParams) (string, error) {
	e.attempts = append(e.attempts, params)
	if len(e.attempts) >= e.succeedOn {
		return "answer", nil
	}
	if e.failWith != nil {
		return "", e.failWith
	}
	return "", rag.ErrContextSizeExceeded
}

func (e *ladderEngine) Insert(ctx context.Context, ref, text string) error { return nil }
func (e *ladderEngine) DeleteByRef(ctx context.Context, ref string) error  { return nil }
func (e *ladderEngine) ClearCache(ctx context.Context) error               { return nil }
func (e *ladderEngine) Close() error                                       { return nil }

type staticSource struct{ engine rag.Engine }

func (s staticSource) Get(ctx context.Context, notebookID string) (rag.Engine, error) {
	return s.engine, nil
}

func newTestOrchestrator(t *testing.T, engine rag.Engine, llmModel string) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	err = st.CreateNotebook(store.Notebook{
		ID:          "nb1",
		CreatedAt:   time.Now().UTC(),
		LLMProvider: provider.RawConfig{Type: "self_hosted", Model: llmModel},
	})
	if err != nil {
		t.Fatalf("CreateNotebook: %v", err)
	}
	return New(st, staticSource{engine}, nil, logging.Discard()), st
}

func TestRunLadderGlobalStepsDownTwice(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 3}
	o, _ := newTestOrchestrator(t, engine, "llama3.3:70b")

	ans, err := o.Run(context.Background(), Request{
		NotebookID: "nb1",
		Question:   "what is this about?",
		Mode:       rag.ModeGlobal,
		TopK:       50,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ans.Mode != rag.ModeNaive {
		t.Errorf("final mode = %s, want naive", ans.Mode)
	}

	if len(engine.attempts) != 3 {
		t.Fatalf("engine saw %d attempts, want 3", len(engine.attempts))
	}
	first, second, third := engine.attempts[0], engine.attempts[1], engine.attempts[2]
	if first.Mode != rag.ModeGlobal || first.TopK != 50 {
		t.Errorf("attempt 1 = %s/%d", first.Mode, first.TopK)
	}
	if second.Mode != rag.ModeLocal || second.TopK != 20 {
		t.Errorf("attempt 2 = %s/%d, want local/20", second.Mode, second.TopK)
	}
	if third.Mode != rag.ModeNaive || third.TopK != 5 || third.ResponseFormat != rag.FormatSingleParagraph {
		t.Errorf("attempt 3 = %s/%d/%s, want naive/5/Single Paragraph", third.Mode, third.TopK, third.ResponseFormat)
	}
}

func TestRunLadderExhaustedSurfacesError(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 100}
	o, _ := newTestOrchestrator(t, engine, "llama3.3:70b")

	_, err := o.Run(context.Background(), Request{
		NotebookID: "nb1", Question: "q", Mode: rag.ModeGlobal, TopK: 10,
	})
	if !rag.IsContextSizeExceeded(err) {
		t.Fatalf("err = %v, want context-size class", err)
	}
	// global → local → naive(final); the final step is tried once.
	if len(engine.attempts) != 3 {
		t.Errorf("engine saw %d attempts, want 3", len(engine.attempts))
	}
}

func TestRunDoesNotLadderOnOtherErrors(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 100, failWith: errors.New("backend exploded")}
	o, _ := newTestOrchestrator(t, engine, "llama3.3:70b")

	_, err := o.Run(context.Background(), Request{NotebookID: "nb1", Question: "q", Mode: rag.ModeGlobal})
	if err == nil || !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("err = %v, want backend error surfaced", err)
	}
	if len(engine.attempts) != 1 {
		t.Errorf("engine saw %d attempts, want 1", len(engine.attempts))
	}
}

func TestRunDowngradesGlobalForSmallModelAndLongQuestion(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 1}
	o, _ := newTestOrchestrator(t, engine, "llama3.2:3b")

	longQuestion := strings.Repeat("why? ", 400)
	ans, err := o.Run(context.Background(), Request{
		NotebookID: "nb1", Question: longQuestion, Mode: rag.ModeGlobal,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ans.Mode != rag.ModeHybrid {
		t.Errorf("mode = %s, want hybrid (downgraded up front)", ans.Mode)
	}

	// A short question on the same small model keeps global.
	engine.attempts = nil
	ans, err = o.Run(context.Background(), Request{
		NotebookID: "nb1", Question: "short?", Mode: rag.ModeGlobal,
	})
	if err != nil {
		t.Fatalf("Run short: %v", err)
	}
	if ans.Mode != rag.ModeGlobal {
		t.Errorf("mode = %s, want global for short question", ans.Mode)
	}
}

func TestRunAssemblesCitationsFromCompletedDocuments(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 1}
	o, st := newTestOrchestrator(t, engine, "llama3.3:70b")

	now := time.Now().UTC()
	for i, d := range []store.Document{
		{ID: "d1", Filename: "q3_sales-report.pdf", FilePath: "/data/d1", Status: store.StatusCompleted},
		{ID: "d2", Filename: "notes.txt", Status: store.StatusProcessing},
		{ID: "d3", Filename: "roadmap.md", FilePath: "/data/d3", Status: store.StatusCompleted},
	} {
		d.NotebookID = "nb1"
		d.UploadedAt = now.Add(time.Duration(i) * time.Second)
		if err := st.AddDocument(d); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}

	ans, err := o.Run(context.Background(), Request{NotebookID: "nb1", Question: "q", Mode: rag.ModeNaive})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ans.Citations) != 2 {
		t.Fatalf("citations = %d, want 2 (completed only)", len(ans.Citations))
	}
	if ans.Citations[0].Title != "Q3 Sales Report" {
		t.Errorf("Title = %q, want %q", ans.Citations[0].Title, "Q3 Sales Report")
	}
	if ans.Citations[0].FilePath != "/data/d1" {
		t.Errorf("FilePath = %q", ans.Citations[0].FilePath)
	}
}

func TestRunCapsCitations(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 1}
	o, st := newTestOrchestrator(t, engine, "llama3.3:70b")

	now := time.Now().UTC()
	for i := 0; i < 15; i++ {
		err := st.AddDocument(store.Document{
			ID:         "d" + strings.Repeat("x", i+1),
			NotebookID: "nb1",
			Filename:   "doc.txt",
			UploadedAt: now.Add(time.Duration(i) * time.Second),
			Status:     store.StatusCompleted,
		})
		if err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}

	ans, err := o.Run(context.Background(), Request{NotebookID: "nb1", Question: "q", Mode: rag.ModeNaive})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ans.Citations) != maxCitations {
		t.Errorf("citations = %d, want %d", len(ans.Citations), maxCitations)
	}
}

func TestRunUnknownNotebook(t *testing.T) {
	t.Parallel()
	engine := &ladderEngine{succeedOn: 1}
	o, _ := newTestOrchestrator(t, engine, "llama3.3:70b")

	_, err := o.Run(context.Background(), Request{NotebookID: "ghost", Question: "q"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStepDownFromUnusualModes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   rag.QueryParams
		want rag.QueryParams
		ok   bool
	}{
		{
			name: "mix goes straight to cheapest",
			in:   rag.QueryParams{Mode: rag.ModeMix, TopK: 40},
			want: rag.QueryParams{Mode: rag.ModeNaive, ResponseFormat: rag.FormatSingleParagraph, TopK: 5},
			ok:   true,
		},
		{
			name: "hybrid caps at fifteen",
			in:   rag.QueryParams{Mode: rag.ModeHybrid, TopK: 60},
			want: rag.QueryParams{Mode: rag.ModeNaive, TopK: 15},
			ok:   true,
		},
		{
			name: "hybrid keeps smaller topk",
			in:   rag.QueryParams{Mode: rag.ModeHybrid, TopK: 8},
			want: rag.QueryParams{Mode: rag.ModeNaive, TopK: 8},
			ok:   true,
		},
		{
			name: "cheapest has nowhere to go",
			in:   rag.QueryParams{Mode: rag.ModeNaive, ResponseFormat: rag.FormatSingleParagraph, TopK: 5},
			ok:   false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := stepDown(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got.Mode != tc.want.Mode || got.TopK != tc.want.TopK || got.ResponseFormat != tc.want.ResponseFormat {
				t.Errorf("stepDown = %s/%d/%s, want %s/%d/%s",
					got.Mode, got.TopK, got.ResponseFormat, tc.want.Mode, tc.want.TopK, tc.want.ResponseFormat)
			}
		})
	}
}

func TestHumanizeTitle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"q3_sales-report.pdf", "Q3 Sales Report"},
		{"README.md", "README"},
		{"meeting notes.txt", "Meeting Notes"},
		{"a.tar.gz", "A.tar"},
	}
	for _, tc := range cases {
		if got := humanizeTitle(tc.in); got != tc.want {
			t.Errorf("humanizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTemplateCatalog(t *testing.T) {
	t.Parallel()
	all := Templates()
	if len(all) == 0 {
		t.Fatal("catalog is empty")
	}
	seen := map[string]bool{}
	for _, tpl := range all {
		if tpl.ID == "" || tpl.QuestionTemplate == "" || !tpl.Mode.Valid() {
			t.Errorf("incomplete template: %+v", tpl)
		}
		if seen[tpl.ID] {
			t.Errorf("duplicate template id %q", tpl.ID)
		}
		seen[tpl.ID] = true
	}

	got, ok := TemplateByID("summarize_all")
	if !ok || got.Mode != rag.ModeHybrid {
		t.Errorf("TemplateByID(summarize_all) = %+v, %v", got, ok)
	}
	if _, ok := TemplateByID("ghost"); ok {
		t.Error("unknown template id resolved")
	}
}
