// Package query executes questions against a notebook's engine with a
// fallback ladder: when a retrieval mode overflows the model's context
// window, the orchestrator steps down to a progressively cheaper mode instead
// of surfacing the failure. Citations are assembled from the notebook's
// completed documents, not from the engine's internal attribution.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/notebookd/notebookd/internal/budget"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

const (
	// Ladder top-k caps per step.
	localStepTopK = 20
	naiveStepTopK = 15
	finalStepTopK = 5

	// maxCitations caps the citation list on every answer.
	maxCitations = 10
)

// Request is one question against a notebook.
type Request struct {
	NotebookID     string
	Question       string
	Mode           rag.Mode
	ResponseFormat rag.ResponseFormat
	TopK           int

	// History is optional prior conversation for the chat path.
	History []store.ChatMessage

	// ProviderOverride substitutes the notebook's LLM provider for this
	// request only.
	ProviderOverride *provider.RawConfig
}

// Answer is the orchestrator's result.
type Answer struct {
	// Answer is the model's response text.
	Answer string
	// Mode is the retrieval mode that actually produced the answer, which
	// may be cheaper than the requested one.
	Mode rag.Mode
	// Citations lists the notebook's completed documents, capped.
	Citations []store.Citation
}

// EngineSource resolves the engine for a notebook. *rag.Registry satisfies it.
type EngineSource interface {
	Get(ctx context.Context, notebookID string) (rag.Engine, error)
}

// OverrideFactory builds a one-off engine using a substitute LLM provider.
type OverrideFactory func(ctx context.Context, notebookID string, llm provider.RawConfig) (rag.Engine, error)

// Orchestrator runs requests through the fallback ladder.
type Orchestrator struct {
	store    *store.Store
	engines  EngineSource
	override OverrideFactory
	log      *slog.Logger
}

// New constructs an Orchestrator. override may be nil; requests carrying a
// provider override are then rejected.
func New(st *store.Store, engines EngineSource, override OverrideFactory, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{store: st, engines: engines, override: override, log: log}
}

// Run answers the request, stepping down the ladder on context-size failures.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Answer, error) {
	nb, err := o.store.GetNotebook(req.NotebookID)
	if err != nil {
		return Answer{}, err
	}

	engine, cleanup, err := o.engineFor(ctx, nb, req.ProviderOverride)
	if err != nil {
		return Answer{}, err
	}
	defer cleanup()

	history := budget.TrimHistory(
		[]*schema.Message{schema.UserMessage(req.Question)},
		historyMessages(req.History),
		budget.DefaultMaxHistoryTokens,
	)
	params := rag.QueryParams{
		Mode:           req.Mode,
		ResponseFormat: req.ResponseFormat,
		TopK:           req.TopK,
		History:        history,
	}
	if !params.Mode.Valid() {
		params.Mode = rag.ModeHybrid
	}

	// A small model reading a long question rarely survives global mode;
	// downgrading up front avoids a guaranteed trip down the ladder.
	model := nb.LLMProvider.Model
	if req.ProviderOverride != nil {
		model = req.ProviderOverride.Model
	}
	if params.Mode == rag.ModeGlobal && budget.IsSmallModel(model) && budget.IsLongQuestion(req.Question) {
		o.log.Info("downgrading global query for small model",
			slog.String("notebook_id", req.NotebookID), slog.String("model", model))
		params.Mode = rag.ModeHybrid
	}

	answer, usedMode, err := o.runLadder(ctx, engine, req.Question, params)
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Answer:    answer,
		Mode:      usedMode,
		Citations: o.citations(req.NotebookID),
	}, nil
}

// runLadder tries the requested parameters, then each cheaper step, once
// each. Only context-size failures trigger a step down; anything else is
// returned immediately.
func (o *Orchestrator) runLadder(ctx context.Context, engine rag.Engine, question string, params rag.QueryParams) (string, rag.Mode, error) {
	for {
		answer, err := engine.Query(ctx, question, params)
		if err == nil {
			return answer, params.Mode, nil
		}
		if !rag.IsContextSizeExceeded(err) {
			return "", params.Mode, err
		}

		next, ok := stepDown(params)
		if !ok {
			return "", params.Mode, fmt.Errorf("query: cheapest mode still exceeds context: %w", err)
		}
		o.log.Info("context exceeded, stepping down",
			slog.String("from", string(params.Mode)), slog.String("to", string(next.Mode)),
			slog.Int("top_k", next.TopK))
		params = next
	}
}

// stepDown returns the next cheaper configuration, or ok=false when the
// current one is already the cheapest.
func stepDown(params rag.QueryParams) (rag.QueryParams, bool) {
	switch params.Mode {
	case rag.ModeGlobal:
		params.Mode = rag.ModeLocal
		if params.TopK > localStepTopK || params.TopK <= 0 {
			params.TopK = localStepTopK
		}
	case rag.ModeHybrid:
		params.Mode = rag.ModeNaive
		if params.TopK > naiveStepTopK || params.TopK <= 0 {
			params.TopK = naiveStepTopK
		}
	default:
		if params.Mode == rag.ModeNaive &&
			params.ResponseFormat == rag.FormatSingleParagraph &&
			params.TopK == finalStepTopK {
			return params, false
		}
		params.Mode = rag.ModeNaive
		params.ResponseFormat = rag.FormatSingleParagraph
		params.TopK = finalStepTopK
	}
	return params, true
}

// engineFor picks the notebook's cached engine, or builds a one-off engine
// when the request overrides the LLM provider.
func (o *Orchestrator) engineFor(ctx context.Context, nb store.Notebook, override *provider.RawConfig) (rag.Engine, func(), error) {
	if override == nil {
		engine, err := o.engines.Get(ctx, nb.ID)
		return engine, func() {}, err
	}
	if o.override == nil {
		return nil, nil, fmt.Errorf("query: provider override is not supported")
	}
	engine, err := o.override(ctx, nb.ID, *override)
	if err != nil {
		return nil, nil, err
	}
	return engine, func() {
		if cerr := engine.Close(); cerr != nil {
			o.log.Warn("override engine close failed", slog.String("error", cerr.Error()))
		}
	}, nil
}

// citations lists the notebook's completed documents, capped at maxCitations.
func (o *Orchestrator) citations(notebookID string) []store.Citation {
	var out []store.Citation
	for _, doc := range o.store.DocumentsByNotebook(notebookID) {
		if doc.Status != store.StatusCompleted {
			continue
		}
		out = append(out, store.Citation{
			Filename: doc.Filename,
			FilePath: doc.FilePath,
			Title:    humanizeTitle(doc.Filename),
		})
		if len(out) == maxCitations {
			break
		}
	}
	return out
}

// humanizeTitle turns "q3_sales-report.pdf" into "Q3 Sales Report".
func humanizeTitle(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// historyMessages converts stored chat turns into model messages.
func historyMessages(history []store.ChatMessage) []*schema.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case store.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
