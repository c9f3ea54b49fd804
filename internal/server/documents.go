// Package server — documents.go contains the document upload, listing,
// deletion, and retry handlers.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/store"
)

// handleUploadDocuments handles POST /notebooks/{id}/documents. Each file of
// the multipart body becomes one Processing document; ingestion jobs are
// enqueued with staggered delays (first file immediately, then +3s per file)
// so a single local backend is not hit by a burst of embeds.
func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	notebookID := r.PathValue("id")
	if _, err := s.store.GetNotebook(notebookID); err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		badRequest(w, "invalid multipart body: "+err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		// Also accept the singular field name some clients use.
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		badRequest(w, "no files in upload")
		return
	}

	log := logging.FromContext(r.Context())
	var created []store.Document
	// Stagger positions count accepted files only, so a rejected file does
	// not delay the jobs behind it.
	accepted := 0
	for _, header := range files {
		doc, err := s.acceptUpload(notebookID, header)
		if err != nil {
			// One bad file does not sink the batch; report it as a Failed
			// document so the client sees what happened.
			log.Warn("upload rejected",
				slog.String("filename", header.Filename), slog.Any("error", err))
			now := time.Now().UTC()
			doc = store.Document{
				ID:         uuid.NewString(),
				NotebookID: notebookID,
				Filename:   header.Filename,
				UploadedAt: now,
				Status:     store.StatusFailed,
				Error:      err.Error(),
				FailedAt:   &now,
			}
			if err := s.store.AddDocument(doc); err != nil {
				writeError(w, r, err)
				return
			}
			created = append(created, doc)
			continue
		}

		created = append(created, doc)
		s.metrics.documentsUploaded.Inc()
		s.recordAudit(r, notebookID, doc.ID, audit.EventUploaded, header.Filename)
		s.pipeline.Enqueue(notebookID, doc.ID, accepted)
		accepted++
	}

	writeJSON(w, http.StatusCreated, created)
}

// acceptUpload extracts one file's text and records it as a Processing
// document.
func (s *Server) acceptUpload(notebookID string, header *multipart.FileHeader) (store.Document, error) {
	f, err := header.Open()
	if err != nil {
		return store.Document{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return store.Document{}, fmt.Errorf("read upload: %w", err)
	}

	text, err := s.extract(header.Filename, data)
	if err != nil {
		return store.Document{}, err
	}

	doc := store.Document{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Filename:   header.Filename,
		UploadedAt: time.Now().UTC(),
		Status:     store.StatusProcessing,
	}

	overflow := ""
	if s.content != nil {
		overflow, err = s.content.Put(doc.ID, text)
		if err != nil {
			return store.Document{}, err
		}
	}
	if overflow != "" {
		doc.ContentOverflowFile = overflow
	} else {
		doc.Content = text
	}

	if err := s.store.AddDocument(doc); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// handleListDocuments handles GET /notebooks/{id}/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	notebookID := r.PathValue("id")
	if _, err := s.store.GetNotebook(notebookID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.DocumentsByNotebook(notebookID))
}

// handleDeleteDocument handles DELETE /notebooks/{id}/documents/{docId}.
// Engine-side cleanup is best effort; the stored record always goes.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	notebookID := r.PathValue("id")
	docID := r.PathValue("docId")

	doc, err := s.store.GetDocument(docID)
	if err != nil || doc.NotebookID != notebookID {
		writeError(w, r, fmt.Errorf("document %s: %w", docID, store.ErrNotFound))
		return
	}

	if doc.EngineRef != "" && s.engines != nil {
		if engine, err := s.engines.Get(r.Context(), notebookID); err == nil {
			if err := engine.DeleteByRef(r.Context(), doc.EngineRef); err != nil {
				log.Warn("engine cleanup failed",
					slog.String("document_id", docID), slog.Any("error", err))
			}
			if err := engine.ClearCache(r.Context()); err != nil {
				log.Warn("engine cache clear failed", slog.Any("error", err))
			}
		}
	}

	if _, err := s.store.DeleteDocument(docID); err != nil {
		writeError(w, r, err)
		return
	}
	if s.content != nil {
		s.content.Drop(docID)
	}

	// The corpus changed; the cached summary is stale.
	if _, err := s.store.UpdateNotebook(notebookID, func(n *store.Notebook) {
		n.SummaryCache = nil
		n.DocsFingerprint = ""
	}); err != nil {
		log.Warn("clearing summary cache failed", slog.Any("error", err))
	}

	s.recordAudit(r, notebookID, docID, audit.EventDeleted, doc.Filename)
	writeJSON(w, http.StatusOK, map[string]string{"message": "document deleted"})
}

// handleRetryDocument handles POST /notebooks/{id}/documents/{docId}/retry.
// Only Failed documents can be retried; anything else is a 400.
func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	notebookID := r.PathValue("id")
	docID := r.PathValue("docId")

	existing, err := s.store.GetDocument(docID)
	if err != nil || existing.NotebookID != notebookID {
		writeError(w, r, fmt.Errorf("document %s: %w", docID, store.ErrNotFound))
		return
	}

	doc, err := s.pipeline.Retry(r.Context(), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, retryResponse{
		Message:    "document queued for reprocessing",
		DocumentID: doc.ID,
		Status:     string(doc.Status),
	})
}
