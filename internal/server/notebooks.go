// Package server — notebooks.go contains the notebook CRUD handlers.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/store"
)

// handleCreateNotebook handles POST /notebooks. Provider configurations are
// resolved up front so a misconfigured notebook is rejected at creation time
// rather than at first ingestion.
func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req createNotebookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if _, err := provider.Resolve(req.LLMProvider); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := provider.Resolve(req.EmbeddingProvider); err != nil {
		writeError(w, r, err)
		return
	}

	nb := store.Notebook{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		CreatedAt:         time.Now().UTC(),
		LLMProvider:       req.LLMProvider,
		EmbeddingProvider: req.EmbeddingProvider,
	}
	if err := s.store.CreateNotebook(nb); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, nb)
}

// handleListNotebooks handles GET /notebooks.
func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListNotebooks())
}

// handleGetNotebook handles GET /notebooks/{id}.
func (s *Server) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	nb, err := s.store.GetNotebook(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// handleDeleteNotebook handles DELETE /notebooks/{id}. Engine-side vectors
// and overflow files are cleaned up best effort: their failure is logged but
// never blocks the delete.
func (s *Server) handleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	notebookID := r.PathValue("id")

	// Clean the index before the records disappear, while the engine still
	// knows its references.
	if s.engines != nil {
		if engine, err := s.engines.Get(r.Context(), notebookID); err == nil {
			for _, doc := range s.store.DocumentsByNotebook(notebookID) {
				if doc.EngineRef == "" {
					continue
				}
				if err := engine.DeleteByRef(r.Context(), doc.EngineRef); err != nil {
					log.Warn("engine cleanup failed",
						slog.String("document_id", doc.ID), slog.Any("error", err))
				}
			}
			if err := engine.ClearCache(r.Context()); err != nil {
				log.Warn("engine cache clear failed", slog.Any("error", err))
			}
		}
	}

	removed, err := s.store.DeleteNotebook(notebookID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, doc := range removed {
		if s.content != nil {
			s.content.Drop(doc.ID)
		}
		s.recordAudit(r, notebookID, doc.ID, audit.EventDeleted, "notebook deleted")
	}
	if s.engines != nil {
		s.engines.Drop(notebookID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "notebook deleted"})
}

// recordAudit appends one lifecycle event, logging instead of failing.
func (s *Server) recordAudit(r *http.Request, notebookID, documentID, name, detail string) {
	err := s.audit.Record(r.Context(), audit.Event{
		NotebookID: notebookID, DocumentID: documentID, Name: name, Detail: detail,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("audit record failed", slog.Any("error", err))
	}
}
