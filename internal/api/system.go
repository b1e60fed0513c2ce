package api

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// componentCheckTimeout bounds each component health probe so a hung
// dependency cannot stall the status endpoint.
const componentCheckTimeout = 2 * time.Second

// handleSystemStatus reports component health, worker status, and
// registry counts in one response.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := map[string]string{
		"database": s.componentHealth(ctx, func(ctx context.Context) error {
			if s.db == nil {
				return errNotConfigured
			}
			return s.db.HealthCheck(ctx)
		}),
		"mqtt": s.componentHealth(ctx, func(ctx context.Context) error {
			if s.mqtt == nil {
				return errNotConfigured
			}
			return s.mqtt.HealthCheck(ctx)
		}),
		"influxdb": s.componentHealth(ctx, func(ctx context.Context) error {
			if s.influx == nil {
				return errNotConfigured
			}
			return s.influx.HealthCheck(ctx)
		}),
	}

	status := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"components": components,
		"counts": map[string]int{
			"rules":      s.rules.GetRuleCount(),
			"tasks":      s.tasks.GetTaskCount(),
			"thresholds": len(s.monitor.ListThresholds()),
		},
	}

	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	if s.supervisor != nil {
		status["workers"] = s.supervisor.Stats()
	}

	writeJSON(w, http.StatusOK, status)
}

// errNotConfigured marks a component that was not wired at startup.
var errNotConfigured = errors.New("not configured")

// componentHealth runs a probe under componentCheckTimeout and folds
// the result into a short status string.
func (s *Server) componentHealth(ctx context.Context, probe func(ctx context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
	defer cancel()

	err := probe(ctx)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errNotConfigured):
		return "not_configured"
	default:
		return "error: " + err.Error()
	}
}
