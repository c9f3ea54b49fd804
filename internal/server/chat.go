package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/store"
)

// handleChat handles POST /notebooks/{id}/chat. Unlike the plain query
// endpoint, the exchange is appended to the notebook's history, and prior
// turns are carried into the model when use_chat_history is set.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		badRequest(w, "question is required")
		return
	}

	s.runChatTurn(w, r, req.Question, rag.Mode(req.Mode), req.UseChatHistory)
}

// runChatTurn runs one conversation turn: answer the question, persist both
// sides of the exchange, and respond. History persistence failures are logged
// rather than surfaced since the answer was already produced.
func (s *Server) runChatTurn(w http.ResponseWriter, r *http.Request, question string, mode rag.Mode, useHistory bool) {
	log := logging.FromContext(r.Context())
	notebookID := r.PathValue("id")

	var history []store.ChatMessage
	if useHistory {
		history = s.store.ChatHistory(notebookID)
	}

	answer, err := s.runQuery(w, r, query.Request{
		NotebookID: notebookID,
		Question:   question,
		Mode:       mode,
		History:    history,
	})
	if err != nil {
		return
	}

	now := time.Now().UTC()
	if err := s.store.AppendChatMessage(notebookID, store.ChatMessage{
		Role: store.RoleUser, Content: question, Timestamp: now,
	}); err != nil {
		log.Warn("recording user turn failed", slog.Any("error", err))
	}
	if err := s.store.AppendChatMessage(notebookID, store.ChatMessage{
		Role:      store.RoleAssistant,
		Content:   answer.Answer,
		Timestamp: time.Now().UTC(),
		Citations: answer.Citations,
	}); err != nil {
		log.Warn("recording assistant turn failed", slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:          answer.Answer,
		Mode:            string(answer.Mode),
		Citations:       answer.Citations,
		ChatContextUsed: len(history) > 0,
	})
}

// handleChatHistory handles GET /notebooks/{id}/chat/history.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	notebookID := r.PathValue("id")
	if _, err := s.store.GetNotebook(notebookID); err != nil {
		writeError(w, r, err)
		return
	}
	history := s.store.ChatHistory(notebookID)
	if history == nil {
		history = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notebook_id": notebookID,
		"messages":    history,
	})
}

// handleClearChatHistory handles DELETE /notebooks/{id}/chat/history.
func (s *Server) handleClearChatHistory(w http.ResponseWriter, r *http.Request) {
	notebookID := r.PathValue("id")
	if _, err := s.store.GetNotebook(notebookID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.ClearChatHistory(notebookID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "chat history cleared"})
}
