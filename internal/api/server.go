package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bryndle/hearth-core/internal/audit"
	"github.com/bryndle/hearth-core/internal/escalation"
	"github.com/bryndle/hearth-core/internal/infrastructure/config"
	"github.com/bryndle/hearth-core/internal/infrastructure/database"
	"github.com/bryndle/hearth-core/internal/infrastructure/influxdb"
	"github.com/bryndle/hearth-core/internal/infrastructure/logging"
	"github.com/bryndle/hearth-core/internal/infrastructure/mqtt"
	"github.com/bryndle/hearth-core/internal/rules"
	"github.com/bryndle/hearth-core/internal/scheduler"
	"github.com/bryndle/hearth-core/internal/state"
	"github.com/bryndle/hearth-core/internal/telemetry"
	"github.com/bryndle/hearth-core/internal/variables"
	"github.com/bryndle/hearth-core/internal/worker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Rules     *rules.Registry
	Engine    *rules.Engine
	Tasks     *scheduler.Registry
	Scheduler *scheduler.Scheduler
	Monitor   *telemetry.Monitor
	Alarms    telemetry.Repository

	Escalations    *escalation.Manager
	EscalationRepo escalation.Repository
	Variables      *variables.Store
	Audit          *audit.Recorder
	AuditRepo      audit.Repository
	State          *state.Store

	// Health check targets; each may be nil.
	DB         *database.DB
	MQTT       *mqtt.Client
	Influx     *influxdb.Client
	Supervisor *worker.Supervisor

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for Hearth Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg    config.APIConfig
	wsCfg  config.WebSocketConfig
	secCfg config.SecurityConfig
	logger *logging.Logger

	rules     *rules.Registry
	engine    *rules.Engine
	tasks     *scheduler.Registry
	scheduler *scheduler.Scheduler
	monitor   *telemetry.Monitor
	alarms    telemetry.Repository

	escalations    *escalation.Manager
	escalationRepo escalation.Repository
	variables      *variables.Store
	audit          *audit.Recorder
	auditRepo      audit.Repository
	state          *state.Store

	db         *database.DB
	mqtt       *mqtt.Client
	influx     *influxdb.Client
	supervisor *worker.Supervisor

	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool // true if hub was injected externally
	tickets     *ticketStore
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registries, monitor)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule registry is required")
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task registry is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("telemetry monitor is required")
	}
	// Engine and Scheduler are optional; manual triggers return an error
	// when they are absent but reads and CRUD still function.

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		rules:          deps.Rules,
		engine:         deps.Engine,
		tasks:          deps.Tasks,
		scheduler:      deps.Scheduler,
		monitor:        deps.Monitor,
		alarms:         deps.Alarms,
		escalations:    deps.Escalations,
		escalationRepo: deps.EscalationRepo,
		variables:      deps.Variables,
		audit:          deps.Audit,
		auditRepo:      deps.AuditRepo,
		state:          deps.State,
		db:             deps.DB,
		mqtt:           deps.MQTT,
		influx:         deps.Influx,
		supervisor:     deps.Supervisor,
		version:        deps.Version,
		tickets:        newTicketStore(),
	}

	// Use externally-provided hub if available (needed when the engine
	// and scheduler also hold the hub for WebSocket broadcasting).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it if needed. Call
// this before Start() when the engine or scheduler needs the hub at
// construction time.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	// Start periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
