// Package worker supervises the long-running goroutines of the core:
// the rule engine tick, the scheduler tick, the escalation sweep, and
// the retention sweeps. A worker that panics or returns while the
// process is still up is logged and restarted after a delay; workers
// never silently die.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Status represents the current state of a supervised worker.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds supervision parameters.
type Config struct {
	// RestartDelay is the wait before restarting a failed worker.
	RestartDelay time.Duration

	// MaxRestarts limits restarts per worker. 0 means unlimited.
	MaxRestarts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RestartDelay: 5 * time.Second,
		MaxRestarts:  0,
	}
}

// Stats is the status view of one supervised worker.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Restarts  int           `json:"restarts"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// entry tracks one worker's run function and state.
type entry struct {
	name string
	run  func(ctx context.Context)

	mu        sync.RWMutex
	status    Status
	restarts  int
	startedAt time.Time
	lastError error
}

// Supervisor runs named workers under a restart-on-failure policy.
type Supervisor struct {
	config Config
	logger Logger

	mu      sync.Mutex
	entries []*entry
	started bool
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor with the given configuration.
func NewSupervisor(cfg Config, logger Logger) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{config: cfg, logger: logger}
}

// Add registers a worker. The run function is expected to block until
// its context is cancelled; returning earlier counts as a failure.
// Add must be called before Start.
func (s *Supervisor) Add(name string, run func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Error("worker added after supervisor start, ignoring", "name", name)
		return
	}
	s.entries = append(s.entries, &entry{name: name, run: run, status: StatusPending})
}

// Start launches every registered worker. It returns immediately; use
// Wait to block until all workers have stopped after ctx cancellation.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	entries := s.entries
	s.mu.Unlock()

	for _, e := range entries {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.supervise(ctx, e)
		}(e)
	}

	s.logger.Info("supervisor started", "workers", len(entries))
}

// Wait blocks until every worker has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// supervise runs one worker until the context is cancelled, restarting
// it on panic or premature return.
func (s *Supervisor) supervise(ctx context.Context, e *entry) {
	for {
		e.mu.Lock()
		e.status = StatusRunning
		e.startedAt = time.Now()
		e.mu.Unlock()

		s.logger.Info("worker started", "name", e.name)
		err := runProtected(ctx, e.run)

		if ctx.Err() != nil {
			e.mu.Lock()
			e.status = StatusStopped
			e.mu.Unlock()
			s.logger.Info("worker stopped", "name", e.name)
			return
		}

		if err == nil {
			err = fmt.Errorf("worker %s returned before shutdown", e.name)
		}

		e.mu.Lock()
		e.status = StatusFailed
		e.lastError = err
		e.restarts++
		restarts := e.restarts
		e.mu.Unlock()

		s.logger.Error("worker failed",
			"name", e.name,
			"error", err,
			"restarts", restarts,
		)

		if s.config.MaxRestarts > 0 && restarts > s.config.MaxRestarts {
			s.logger.Error("worker restart limit reached", "name", e.name, "restarts", restarts)
			return
		}

		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.status = StatusStopped
			e.mu.Unlock()
			return
		case <-time.After(s.config.RestartDelay):
		}
	}
}

// runProtected invokes run behind a panic barrier.
func runProtected(ctx context.Context, run func(ctx context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	run(ctx)
	return nil
}

// Stats returns the status view of every worker.
func (s *Supervisor) Stats() []Stats {
	s.mu.Lock()
	entries := s.entries
	s.mu.Unlock()

	stats := make([]Stats, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		st := Stats{
			Name:     e.name,
			Status:   e.status,
			Restarts: e.restarts,
		}
		if e.status == StatusRunning {
			st.Uptime = time.Since(e.startedAt)
		}
		if e.lastError != nil {
			st.LastError = e.lastError.Error()
		}
		e.mu.RUnlock()
		stats = append(stats, st)
	}
	return stats
}

// Every wraps a tick function into a worker run loop: the tick fires on
// a fixed interval and each invocation sits behind its own fault
// barrier, so one bad tick never takes the loop down.
func Every(interval time.Duration, logger Logger, name string, tick func(ctx context.Context)) func(ctx context.Context) {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.Error("tick panicked",
								"worker", name,
								"panic", fmt.Sprint(r),
							)
						}
					}()
					tick(ctx)
				}()
			}
		}
	}
}
