package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - user must be logged in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Automation rules
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRule)
					r.Put("/", s.handleUpdateRule)
					r.Delete("/", s.handleDeleteRule)
					r.Post("/enable", s.handleEnableRule)
					r.Post("/disable", s.handleDisableRule)
					r.Post("/trigger", s.handleTriggerRule)
				})
			})

			// Scheduled tasks
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Put("/", s.handleUpdateTask)
					r.Delete("/", s.handleDeleteTask)
					r.Post("/enable", s.handleEnableTask)
					r.Post("/disable", s.handleDisableTask)
					r.Post("/trigger", s.handleTriggerTask)
				})
			})

			// Telemetry thresholds
			r.Route("/thresholds", func(r chi.Router) {
				r.Get("/", s.handleListThresholds)
				r.Put("/", s.handleSetThreshold)
				r.Get("/{deviceID}/{sensorType}", s.handleGetThreshold)
				r.Delete("/{deviceID}/{sensorType}", s.handleDeleteThreshold)
			})

			// Alarms
			r.Route("/alarms", func(r chi.Router) {
				r.Get("/", s.handleListAlarms)
				r.Get("/{id}", s.handleGetAlarm)
				r.Post("/{id}/ack", s.handleAckAlarm)
			})

			// Escalations
			r.Route("/escalations", func(r chi.Router) {
				r.Get("/", s.handleListEscalations)
				r.Get("/{id}", s.handleGetEscalation)
				r.Post("/{id}/resolve", s.handleResolveEscalation)
			})

			// Variables
			r.Route("/variables", func(r chi.Router) {
				r.Get("/", s.handleListVariables)
				r.Get("/{name}", s.handleGetVariable)
				r.Put("/{name}", s.handleSetVariable)
				r.Delete("/{name}", s.handleDeleteVariable)
			})

			// Audit trail
			r.Get("/audit", s.handleListAuditLogs)

			// System status
			r.Get("/system/status", s.handleSystemStatus)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
