// Package api implements the HTTP REST API and WebSocket server for Hearth Core.
//
// This package provides:
//   - REST endpoints for rules, scheduled tasks, thresholds, alarms,
//     escalations, variables, and the audit trail
//   - WebSocket hub for real-time event broadcasts (alarm.raised,
//     rule.fired, task.fired, escalation.raised)
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator interfaces (dashboards, mobile
// apps) and the automation core. Mutations go through the in-memory
// registries so the engine and scheduler see changes immediately, and
// every operator mutation is written to the audit trail. Events raised
// by the engine, scheduler, and telemetry monitor are pushed out
// through the WebSocket hub.
//
// # Security
//
// Authentication uses JWT tokens signed with the configured secret.
// Operator credentials come from configuration; login is disabled
// until a password is set. WebSocket connections use single-use
// tickets to prevent token leakage in URLs.
package api
