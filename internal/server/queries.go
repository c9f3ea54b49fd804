package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
)

// handleQuery handles POST /notebooks/{id}/query: a one-shot question with no
// chat history attached.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		badRequest(w, "question is required")
		return
	}

	answer, err := s.runQuery(w, r, query.Request{
		NotebookID:       r.PathValue("id"),
		Question:         req.Question,
		Mode:             rag.Mode(req.Mode),
		ResponseFormat:   rag.ResponseFormat(req.ResponseFormat),
		TopK:             req.TopK,
		ProviderOverride: req.ProviderOverride,
	})
	if err != nil {
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer.Answer,
		Mode:      string(answer.Mode),
		Citations: answer.Citations,
	})
}

// handleQueryTemplates handles GET /query-templates.
func (s *Server) handleQueryTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, query.Templates())
}

// handleQueryTemplate handles POST /notebooks/{id}/query/template/{templateId}.
// The template's canned question runs as a chat turn so its answer lands in
// the notebook's history like any other exchange.
func (s *Server) handleQueryTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := query.TemplateByID(r.PathValue("templateId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown query template: " + r.PathValue("templateId"),
		})
		return
	}

	s.runChatTurn(w, r, tpl.QuestionTemplate, tpl.Mode, false)
}

// runQuery executes a query request, recording metrics and writing the error
// response on failure. A nil error means the caller still owns the response.
func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, req query.Request) (query.Answer, error) {
	requested := string(req.Mode)
	if requested == "" {
		requested = string(rag.ModeHybrid)
	}

	start := time.Now()
	answer, err := s.queries.Run(r.Context(), req)
	s.metrics.queryDurationSeconds.WithLabelValues(requested).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.queriesTotal.WithLabelValues(requested, "error").Inc()
		writeError(w, r, err)
		return query.Answer{}, err
	}
	s.metrics.queriesTotal.WithLabelValues(requested, "ok").Inc()
	return answer, nil
}
