package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/variables"
)

// variableRequest is the request body for PUT /variables/{name}.
type variableRequest struct {
	Value any `json:"value"`
}

// handleListVariables returns all variables.
func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	if s.variables == nil {
		writeInternalError(w, "variable store not configured")
		return
	}

	list := s.variables.List()
	writeJSON(w, http.StatusOK, map[string]any{"variables": list, "count": len(list)})
}

// handleGetVariable returns a single variable value by name.
func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	if s.variables == nil {
		writeInternalError(w, "variable store not configured")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid variable name")
		return
	}

	value, err := s.variables.Get(name)
	if err != nil {
		if errors.Is(err, variables.ErrNotFound) {
			writeNotFound(w, "variable not found")
			return
		}
		writeInternalError(w, "failed to get variable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

// handleSetVariable creates or replaces a variable. Rules referencing
// it see the new value on the next evaluation tick.
func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	if s.variables == nil {
		writeInternalError(w, "variable store not configured")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid variable name")
		return
	}

	var req variableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.variables.Set(r.Context(), name, req.Value); err != nil {
		writeInternalError(w, "failed to set variable")
		return
	}

	s.operatorAction(r, "update", "variable", name, map[string]any{"value": req.Value})
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": req.Value})
}

// handleDeleteVariable removes a variable.
func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if s.variables == nil {
		writeInternalError(w, "variable store not configured")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid variable name")
		return
	}

	if err := s.variables.Delete(r.Context(), name); err != nil {
		if errors.Is(err, variables.ErrNotFound) {
			writeNotFound(w, "variable not found")
			return
		}
		writeInternalError(w, "failed to delete variable")
		return
	}

	s.operatorAction(r, "delete", "variable", name, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "name": name})
}
