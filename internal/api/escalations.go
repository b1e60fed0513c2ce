package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/escalation"
)

// handleListEscalations returns escalations, newest first.
//
// Query parameters:
//   - include_resolved: "true" to include resolved escalations
//   - limit: max results
func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	if s.escalationRepo == nil {
		writeInternalError(w, "escalation storage not configured")
		return
	}

	q := r.URL.Query()
	includeResolved := q.Get("include_resolved") == "true"
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	list, err := s.escalationRepo.List(r.Context(), includeResolved, limit)
	if err != nil {
		s.logger.Error("failed to list escalations", "error", err)
		writeInternalError(w, "failed to list escalations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"escalations": list, "count": len(list)})
}

// handleGetEscalation returns a single escalation by ID.
func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalationRepo == nil {
		writeInternalError(w, "escalation storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid escalation ID")
		return
	}

	esc, err := s.escalationRepo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, escalation.ErrNotFound) {
			writeNotFound(w, "escalation not found")
			return
		}
		writeInternalError(w, "failed to get escalation")
		return
	}

	writeJSON(w, http.StatusOK, esc)
}

// handleResolveEscalation marks an escalation resolved, stopping
// further tier notifications.
func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeInternalError(w, "escalation manager not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid escalation ID")
		return
	}

	if err := s.escalations.Resolve(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			writeNotFound(w, "escalation not found")
		case errors.Is(err, escalation.ErrAlreadyResolved):
			writeConflict(w, "escalation already resolved")
		default:
			writeInternalError(w, "failed to resolve escalation")
		}
		return
	}

	s.operatorAction(r, "resolve", "escalation", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved", "id": id})
}
