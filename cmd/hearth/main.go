// Hearth Core - Autonomous Home Automation Engine
//
// This is the main entry point for the Hearth Core application.
// Hearth is a self-contained automation core designed for:
//   - Fully autonomous operation (no cloud dependency)
//   - Telemetry-driven alarms with tiered escalation
//   - Declarative rules and schedules stored locally
//   - Open transports (MQTT, REST, WebSocket)
//
// For architecture details, see: docs/architecture/system-overview.md
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/bryndle/hearth-core/migrations"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/api"
	"github.com/bryndle/hearth-core/internal/audit"
	"github.com/bryndle/hearth-core/internal/condition"
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

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise rule registry
	ruleRepo := rules.NewSQLiteRepository(db.DB)
	ruleRegistry := rules.NewRegistry(ruleRepo)
	ruleRegistry.SetLogger(log)
	if refreshErr := ruleRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rule registry: %w", refreshErr)
	}
	log.Info("rule registry initialised", "rules", ruleRegistry.GetRuleCount())

	// Initialise task registry
	taskRepo := scheduler.NewSQLiteRepository(db.DB)
	taskRegistry := scheduler.NewRegistry(taskRepo)
	taskRegistry.SetLogger(log)
	if refreshErr := taskRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading task registry: %w", refreshErr)
	}
	log.Info("task registry initialised", "tasks", taskRegistry.GetTaskCount())

	// Initialise shared variables and the state snapshot the engine reads
	variableRepo := variables.NewSQLiteRepository(db.DB)
	variableStore := variables.NewStore(variableRepo)
	if refreshErr := variableStore.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading variables: %w", refreshErr)
	}
	stateStore := state.NewStore()
	stateStore.SetVariableResolver(variableStore)

	// Audit trail (also receives rule firings, task runs and raised alarms)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	qos := byte(cfg.MQTT.QoS)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is created up front because the engine and scheduler
	// broadcast through it. Its run loop lives under the supervisor.
	hub := api.NewHub(cfg.WebSocket, log)

	// Notifications fan out to WebSocket clients and the MQTT event topic
	notify := notifierFanout{hub, &mqttNotifier{client: mqttClient, qos: qos}}

	// Escalation manager: unresolved critical alarms climb notification tiers
	escalationRepo := escalation.NewSQLiteRepository(db.DB)
	escalationMgr := escalation.NewManager(escalationRepo, notify, escalation.DefaultTiers())
	escalationMgr.SetLogger(log)
	escalationMgr.SetInterval(cfg.EscalationLevelInterval())

	// Telemetry monitor: evaluates readings against thresholds, raises alarms
	telemetryRepo := telemetry.NewSQLiteRepository(db.DB)
	monitor := telemetry.NewMonitor(telemetryRepo)
	monitor.SetLogger(log)
	monitor.SetDedupWindow(cfg.AlarmDedupWindow())
	if refreshErr := monitor.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading thresholds: %w", refreshErr)
	}
	log.Info("threshold cache initialised", "thresholds", len(monitor.ListThresholds()))
	monitor.AddSink(recorder)
	monitor.AddSink(escalationMgr)
	monitor.AddSink(hub)
	if influxClient != nil {
		monitor.AddSink(influxClient)
	}

	// Action dispatcher: device commands go out over MQTT, notifications
	// through the fanout above. The rule toggler is wired after the
	// registry exists because the two reference each other.
	dispatcher := action.NewDispatcher(action.Deps{
		Devices:   mqtt.NewDeviceChannel(mqttClient, qos),
		Notifier:  notify,
		Variables: variableStore,
		Logger:    log,
	})
	dispatcher.SetRuleToggler(ruleRegistry)

	// Rule engine and task scheduler
	engine := rules.NewEngine(ruleRegistry, condition.NewEvaluator(), dispatcher, stateStore, hub, log)
	engine.SetInterval(cfg.RuleTick())
	engine.SetExecutionSink(recorder)

	sched := scheduler.NewScheduler(taskRegistry, dispatcher, hub, log)
	sched.SetInterval(cfg.SchedulerTick())
	sched.SetRunSink(recorder)

	// Supervisor restarts any loop that panics or exits early
	supervisor := worker.NewSupervisor(worker.DefaultConfig(), log)
	supervisor.Add("ws-hub", hub.Run)
	supervisor.Add("rule-engine", engine.Run)
	supervisor.Add("scheduler", sched.Run)
	supervisor.Add("escalation-sweep", worker.Every(cfg.EscalationSweep(), log, "escalation-sweep", func(ctx context.Context) {
		if sweepErr := escalationMgr.Sweep(ctx); sweepErr != nil {
			log.Error("escalation sweep failed", "error", sweepErr)
		}
	}))
	supervisor.Add("retention-sweep", worker.Every(cfg.RetentionSweep(), log, "retention-sweep", func(ctx context.Context) {
		retentionSweep(ctx, cfg.Engine.Retention, telemetryRepo, auditRepo, escalationMgr, log)
	}))
	supervisor.Start(ctx)

	// Subscribe to telemetry: readings flow to the monitor for threshold
	// checks and to the state/WebSocket/InfluxDB recorders
	ingest := mqtt.NewTelemetryIngest(mqttClient, monitor, readingFanout{
		state:  stateStore,
		hub:    hub,
		influx: influxClient,
	}, log)
	if ingestErr := ingest.Start(ctx, qos); ingestErr != nil {
		return fmt.Errorf("starting telemetry ingest: %w", ingestErr)
	}
	log.Info("telemetry ingest started")

	// REST + WebSocket API
	srv, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Logger:         log,
		Rules:          ruleRegistry,
		Engine:         engine,
		Tasks:          taskRegistry,
		Scheduler:      sched,
		Monitor:        monitor,
		Alarms:         telemetryRepo,
		Escalations:    escalationMgr,
		EscalationRepo: escalationRepo,
		Variables:      variableStore,
		Audit:          recorder,
		AuditRepo:      auditRepo,
		State:          stateStore,
		DB:             db,
		MQTT:           mqttClient,
		Influx:         influxClient,
		Supervisor:     supervisor,
		ExternalHub:    hub,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Wait for supervised loops to wind down before the deferred Close()
	// calls tear down the API server, InfluxDB, MQTT and database.
	supervisor.Wait()

	log.Info("Hearth Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// retentionSweep deletes aged alarms, audit entries and resolved
// escalations according to the configured retention windows. A window
// of zero days disables pruning for that table.
func retentionSweep(ctx context.Context, cfg config.RetentionConfig, alarms telemetry.Repository, auditRepo audit.Repository, escalations *escalation.Manager, log *logging.Logger) {
	now := time.Now().UTC()

	if cfg.AlarmDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.AlarmDays)
		if n, err := alarms.DeleteAlarmsBefore(ctx, cutoff); err != nil {
			log.Error("alarm retention sweep failed", "error", err)
		} else if n > 0 {
			log.Info("pruned aged alarms", "deleted", n, "cutoff", cutoff)
		}
	}

	if cfg.AuditDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.AuditDays)
		if n, err := auditRepo.DeleteBefore(ctx, cutoff); err != nil {
			log.Error("audit retention sweep failed", "error", err)
		} else if n > 0 {
			log.Info("pruned aged audit entries", "deleted", n, "cutoff", cutoff)
		}
	}

	if cfg.ResolvedEscalationDays > 0 {
		olderThan := time.Duration(cfg.ResolvedEscalationDays) * 24 * time.Hour
		if n, err := escalations.PruneResolved(ctx, olderThan); err != nil {
			log.Error("escalation retention sweep failed", "error", err)
		} else if n > 0 {
			log.Info("pruned resolved escalations", "deleted", n)
		}
	}
}

// notifier is the delivery contract shared by the action dispatcher and
// the escalation manager.
type notifier interface {
	Send(ctx context.Context, channel string, recipients []string, title, message string, metadata map[string]any) error
}

// notifierFanout delivers each notification to every target in order.
// The first failure is returned but later targets still run.
type notifierFanout []notifier

// Send implements the notifier contract over all targets.
func (f notifierFanout) Send(ctx context.Context, channel string, recipients []string, title, message string, metadata map[string]any) error {
	var firstErr error
	for _, n := range f {
		if err := n.Send(ctx, channel, recipients, title, message, metadata); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mqttNotifier publishes notifications to the MQTT event topic so
// external delivery services (email, SMS gateways) can pick them up.
type mqttNotifier struct {
	client *mqtt.Client
	qos    byte
}

// Send implements the notifier contract by publishing a JSON event.
func (n *mqttNotifier) Send(_ context.Context, channel string, recipients []string, title, message string, metadata map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"channel":    channel,
		"recipients": recipients,
		"title":      title,
		"message":    message,
		"metadata":   metadata,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return n.client.Publish(mqtt.Topics{}.Event("notification"), payload, n.qos, false)
}

// readingFanout relays each ingested sensor reading to the in-memory
// state snapshot, WebSocket subscribers and, when enabled, InfluxDB.
type readingFanout struct {
	state  *state.Store
	hub    *api.Hub
	influx *influxdb.Client
}

// RecordReading implements the ingest recorder contract.
func (f readingFanout) RecordReading(r telemetry.SensorReading) {
	f.state.RecordReading(r)
	f.hub.RecordReading(r)
	if f.influx != nil {
		f.influx.WriteSensorReading(r)
	}
}
