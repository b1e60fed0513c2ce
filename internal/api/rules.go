package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/rules"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// handleListRules returns all rules ordered by priority.
//
// Query parameters:
//   - enabled: "true" to return only enabled rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("enabled") == "true" {
		list := s.rules.ListEnabled(ctx)
		writeJSON(w, http.StatusOK, map[string]any{"rules": list, "count": len(list)})
		return
	}

	list, err := s.rules.ListRules(ctx)
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list, "count": len(list)})
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	rule, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule creates a new rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		if errors.Is(err, rules.ErrInvalidRule) {
			writeValidationError(w, err.Error())
			return
		}
		if errors.Is(err, rules.ErrDuplicateID) {
			writeConflict(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create rule")
		return
	}

	s.operatorAction(r, "create", "rule", rule.ID, map[string]any{"name": rule.Name})
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule replaces a rule. Execution bookkeeping is preserved
// by the registry so an edit does not reset cooldown accounting.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rule.ID = id

	if err := s.rules.UpdateRule(r.Context(), &rule); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		if errors.Is(err, rules.ErrInvalidRule) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update rule")
		return
	}

	s.operatorAction(r, "update", "rule", id, map[string]any{"name": rule.Name})
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to delete rule")
		return
	}

	s.operatorAction(r, "delete", "rule", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// handleEnableRule enables a rule.
func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, true)
}

// handleDisableRule disables a rule.
func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, false)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	if err := s.rules.SetRuleEnabled(r.Context(), id, enabled); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to update rule")
		return
	}

	verb := "disable"
	if enabled {
		verb = "enable"
	}
	s.operatorAction(r, verb, "rule", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// handleTriggerRule fires a rule immediately, bypassing its conditions
// and gates. The firing still counts toward cooldown and the daily cap.
func (s *Server) handleTriggerRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	if s.engine == nil {
		writeInternalError(w, "rule engine not running")
		return
	}

	if err := s.engine.TriggerNow(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, rules.ErrNotFound):
			writeNotFound(w, "rule not found")
		case errors.Is(err, rules.ErrDisabled):
			writeConflict(w, "rule is disabled")
		default:
			writeInternalError(w, "failed to trigger rule")
		}
		return
	}

	s.operatorAction(r, "trigger", "rule", id, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "triggered", "id": id})
}
