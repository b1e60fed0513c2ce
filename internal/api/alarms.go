package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

// handleListAlarms returns alarms, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - severity: filter by severity (warning, critical)
//   - unacked: "true" for unacknowledged alarms only
//   - since: RFC3339 instant; alarms at or after it
//   - limit: max results (default 50, max 500)
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeInternalError(w, "alarm storage not configured")
		return
	}

	q := r.URL.Query()
	filter := telemetry.AlarmFilter{
		DeviceID: q.Get("device_id"),
		Severity: telemetry.Severity(q.Get("severity")),
		Unacked:  q.Get("unacked") == "true",
	}

	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	alarms, err := s.alarms.ListAlarms(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list alarms", "error", err)
		writeInternalError(w, "failed to list alarms")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms, "count": len(alarms)})
}

// handleGetAlarm returns a single alarm by ID.
func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeInternalError(w, "alarm storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid alarm ID")
		return
	}

	alarm, err := s.alarms.GetAlarm(r.Context(), id)
	if err != nil {
		if errors.Is(err, telemetry.ErrAlarmNotFound) {
			writeNotFound(w, "alarm not found")
			return
		}
		writeInternalError(w, "failed to get alarm")
		return
	}

	writeJSON(w, http.StatusOK, alarm)
}

// handleAckAlarm marks an alarm acknowledged by the authenticated operator.
func (s *Server) handleAckAlarm(w http.ResponseWriter, r *http.Request) {
	if s.alarms == nil {
		writeInternalError(w, "alarm storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid alarm ID")
		return
	}

	ackBy := userIDFrom(r.Context())
	if err := s.alarms.AcknowledgeAlarm(r.Context(), id, ackBy, time.Now().UTC()); err != nil {
		if errors.Is(err, telemetry.ErrAlarmNotFound) {
			writeNotFound(w, "alarm not found")
			return
		}
		writeInternalError(w, "failed to acknowledge alarm")
		return
	}

	s.operatorAction(r, "ack", "alarm", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "acknowledged", "id": id, "acknowledged_by": ackBy})
}
