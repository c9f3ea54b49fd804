// Package summary produces corpus-level summaries with content-fingerprint
// caching: a notebook's summary is recomputed only when the set of completed
// documents changes, detected by comparing fingerprints rather than tracking
// individual mutations.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

// summaryTopK is wide on purpose: a corpus summary should see as much of the
// notebook as the context allows, and the orchestrator's ladder handles the
// overflow case.
const summaryTopK = 100

// NotReadyAnswer is returned while the notebook has no completed documents.
const NotReadyAnswer = "No documents have finished processing yet. Upload documents and wait for ingestion to complete before requesting a summary."

const summaryQuestion = "Provide a comprehensive summary of all the documents in this notebook, covering the main topics, key findings, and how the documents relate to each other."

// Runner executes a query request. *query.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req query.Request) (query.Answer, error)
}

// Result is a plain notebook summary.
type Result struct {
	// Answer is the summary text.
	Answer string
	// Mode is the retrieval mode that produced it, preserved verbatim when
	// served from cache.
	Mode rag.Mode
	// Cached reports whether the answer came from the fingerprint cache.
	Cached bool
}

// DetailedResult is an uncached summary with source attribution.
type DetailedResult struct {
	Answer          string
	Mode            rag.Mode
	SourceDocuments []string
	Citations       []store.Citation
}

// Service computes and caches notebook summaries.
type Service struct {
	store  *store.Store
	runner Runner
	log    *slog.Logger
}

// New constructs a Service.
func New(st *store.Store, runner Runner, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, runner: runner, log: log}
}

// Fingerprint derives the corpus identity from the completed documents:
// sorted "id:uploadedAt" pairs joined with "|". Sorting makes the value
// independent of processing order, so two notebooks with the same documents
// fingerprint identically no matter how ingestion interleaved.
func Fingerprint(docs []store.Document) string {
	var parts []string
	for _, doc := range docs {
		if doc.Status != store.StatusCompleted {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s", doc.ID, doc.UploadedAt.UTC().Format(time.RFC3339)))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// GetOrRefresh returns the notebook's summary, serving the cached answer when
// the corpus fingerprint is unchanged and recomputing otherwise.
func (s *Service) GetOrRefresh(ctx context.Context, notebookID string) (Result, error) {
	nb, err := s.store.GetNotebook(notebookID)
	if err != nil {
		return Result{}, err
	}

	docs := s.store.DocumentsByNotebook(notebookID)
	fingerprint := Fingerprint(docs)
	if fingerprint == "" {
		// Nothing completed; do not cache, the corpus is still in flux.
		return Result{Answer: NotReadyAnswer, Mode: rag.ModeHybrid}, nil
	}

	if nb.SummaryCache != nil && nb.DocsFingerprint == fingerprint {
		return Result{
			Answer: nb.SummaryCache.Answer,
			Mode:   rag.Mode(nb.SummaryCache.Mode),
			Cached: true,
		}, nil
	}

	ans, err := s.runner.Run(ctx, query.Request{
		NotebookID:     notebookID,
		Question:       summaryQuestion,
		Mode:           rag.ModeHybrid,
		ResponseFormat: rag.FormatSingleParagraph,
		TopK:           summaryTopK,
	})
	if err != nil {
		return Result{}, fmt.Errorf("summary: notebook %s: %w", notebookID, err)
	}

	if _, err := s.store.UpdateNotebook(notebookID, func(n *store.Notebook) {
		n.SummaryCache = &store.SummaryCache{
			Answer:      ans.Answer,
			Mode:        string(ans.Mode),
			Fingerprint: fingerprint,
		}
		n.DocsFingerprint = fingerprint
	}); err != nil {
		// The answer is still good; only the cache write failed.
		s.log.Warn("summary cache not persisted",
			slog.String("notebook_id", notebookID), slog.String("error", err.Error()))
	}

	return Result{Answer: ans.Answer, Mode: ans.Mode}, nil
}

// Detailed produces a one-off summary with source attribution. Never cached:
// the prompt varies with the options.
func (s *Service) Detailed(ctx context.Context, notebookID string, includeDetails bool, maxLength string) (DetailedResult, error) {
	if _, err := s.store.GetNotebook(notebookID); err != nil {
		return DetailedResult{}, err
	}

	var sources []string
	for _, doc := range s.store.DocumentsByNotebook(notebookID) {
		if doc.Status == store.StatusCompleted {
			sources = append(sources, doc.Filename)
		}
	}
	if len(sources) == 0 {
		return DetailedResult{Answer: NotReadyAnswer, Mode: rag.ModeHybrid}, nil
	}

	ans, err := s.runner.Run(ctx, query.Request{
		NotebookID:     notebookID,
		Question:       detailedQuestion(includeDetails, maxLength),
		Mode:           rag.ModeHybrid,
		ResponseFormat: detailedFormat(maxLength),
		TopK:           summaryTopK,
	})
	if err != nil {
		return DetailedResult{}, fmt.Errorf("summary: notebook %s: %w", notebookID, err)
	}

	return DetailedResult{
		Answer:          ans.Answer,
		Mode:            ans.Mode,
		SourceDocuments: sources,
		Citations:       ans.Citations,
	}, nil
}

// detailedQuestion builds the prompt for the requested length and detail
// level. Unknown lengths fall back to medium.
func detailedQuestion(includeDetails bool, maxLength string) string {
	var b strings.Builder
	b.WriteString("Summarize all the documents in this notebook.")
	switch maxLength {
	case "short":
		b.WriteString(" Keep the summary brief, a few sentences at most.")
	case "long":
		b.WriteString(" Produce a thorough, in-depth summary covering every document.")
	default:
		b.WriteString(" Aim for a moderately detailed summary.")
	}
	if includeDetails {
		b.WriteString(" Include specific facts, figures, and names from the documents.")
	}
	return b.String()
}

func detailedFormat(maxLength string) rag.ResponseFormat {
	if maxLength == "short" {
		return rag.FormatSingleParagraph
	}
	return rag.FormatMultipleParagraphs
}
