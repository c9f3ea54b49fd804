package server

import (
	"encoding/json"
	"io"
	"net/http"
)

// handleSummary handles POST /notebooks/{id}/summary. The answer is served
// from the fingerprint cache when the notebook's completed corpus has not
// changed since it was computed.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.summaries.GetOrRefresh(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		Summary: result.Answer,
		Mode:    string(result.Mode),
		Cached:  result.Cached,
	})
}

// handleDetailedSummary handles POST /notebooks/{id}/summary/detailed. Always
// computed fresh; an empty body means the defaults.
func (s *Server) handleDetailedSummary(w http.ResponseWriter, r *http.Request) {
	var req detailedSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	result, err := s.summaries.Detailed(r.Context(), r.PathValue("id"), req.IncludeDetails, req.MaxLength)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detailedSummaryResponse{
		Summary:         result.Answer,
		Mode:            string(result.Mode),
		SourceDocuments: result.SourceDocuments,
		Citations:       result.Citations,
	})
}
