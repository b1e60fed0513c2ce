package api

import (
	"net/http"
	"strconv"

	"github.com/bryndle/hearth-core/internal/audit"
)

// operatorAction records an operator mutation in the audit trail,
// attributed to the authenticated user. A nil recorder disables it.
func (s *Server) operatorAction(r *http.Request, verb, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.OperatorAction(r.Context(), userIDFrom(r.Context()), verb, entityType, entityID, details)
}

// handleListAuditLogs returns paginated audit trail entries with optional filters.
//
// Query parameters:
//   - action: filter by action (create, update, delete, trigger, ack, resolve, login)
//   - entity_type: filter by entity type (rule, task, threshold, alarm, ...)
//   - entity_id: filter by specific entity ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
