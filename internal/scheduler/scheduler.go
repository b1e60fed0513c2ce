// Package scheduler fires time-triggered tasks.
//
// A Task carries one action and a schedule. The Scheduler checks every
// enabled task against its nextRunAt on a fixed tick, runs due tasks on
// their own goroutines, and recomputes the next due time afterwards.
// A "once" task self-disables after running; a task that reaches its
// maxRuns cap is disabled without a further execution.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/schedule"
)

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// RunSink receives the result of each completed task run. The audit
// layer implements this; a nil sink disables the recording.
type RunSink interface {
	TaskFired(ctx context.Context, taskID string, result action.Result)
}

// defaultTickInterval is how often due times are checked.
const defaultTickInterval = 1 * time.Second

// Scheduler drives the due-check loop.
//
// A task never has two runs in flight at once. On shutdown the loop
// stops picking up new work but in-flight runs complete.
type Scheduler struct {
	registry   *Registry
	dispatcher *action.Dispatcher
	hub        WSHub
	sink       RunSink
	logger     Logger

	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler.
func NewScheduler(registry *Registry, dispatcher *action.Dispatcher, hub WSHub, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
		interval:   defaultTickInterval,
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
	}
}

// SetRunSink sets the sink that records completed runs.
func (s *Scheduler) SetRunSink(sink RunSink) {
	s.sink = sink
}

// SetInterval overrides the tick interval. Used by tests and config.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetNow overrides the clock. Used by tests.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Run checks due times on a fixed tick until ctx is cancelled, then
// waits for in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one due-check pass over all enabled tasks.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	for _, task := range s.registry.ListEnabled(ctx) {
		if task.NextRunAt == nil || now.Before(*task.NextRunAt) {
			continue
		}

		// The cap check happens before execution: a task already at its
		// cap is disabled without one more run.
		if task.MaxRuns > 0 && task.RunCount >= task.MaxRuns {
			s.disableAtCap(ctx, task)
			continue
		}

		s.startRun(ctx, task, now)
	}
}

// TriggerNow runs a task immediately, bypassing the due check. The run
// counts toward maxRuns but leaves the regular schedule untouched.
// Returns ErrDisabled for disabled tasks.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) error {
	task, err := s.registry.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !task.Enabled {
		return ErrDisabled
	}

	s.run(ctx, *task, s.now().UTC(), true)
	return nil
}

// startRun launches a run goroutine unless one is already in flight
// for this task.
func (s *Scheduler) startRun(ctx context.Context, task Task, now time.Time) {
	s.mu.Lock()
	if _, busy := s.inFlight[task.ID]; busy {
		s.mu.Unlock()
		return
	}
	s.inFlight[task.ID] = struct{}{}
	s.mu.Unlock()

	// Detach from the loop context so shutdown does not cut a run short.
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, task.ID)
			s.mu.Unlock()
		}()
		s.run(runCtx, task, now, false)
	}()
}

// run executes the task's action and records the outcome. Manual runs
// keep the existing nextRunAt; scheduled runs recompute it.
func (s *Scheduler) run(ctx context.Context, task Task, firedAt time.Time, manual bool) {
	s.logger.Info("task running",
		"task_id", task.ID,
		"task_name", task.Name,
		"manual", manual,
	)

	result := s.dispatcher.Execute(ctx, task.Action)

	lastRunAt := firedAt
	upd := RunUpdate{
		Enabled:   true,
		LastRunAt: &lastRunAt,
		RunCount:  task.RunCount + 1,
		NextRunAt: cloneTimePtr(task.NextRunAt),
	}
	if !result.OK() {
		msg := result.Error
		at := s.now().UTC()
		upd.LastError = &msg
		upd.LastErrorAt = &at
	}

	switch {
	case task.ScheduleType == schedule.TypeOnce:
		// A once task has no further run.
		upd.Enabled = false
		upd.NextRunAt = nil
	case !manual:
		if next, ok := schedule.NextRun(task.ScheduleType, task.ScheduleConfig, firedAt); ok {
			upd.NextRunAt = &next
		} else {
			upd.NextRunAt = nil
		}
	}

	if err := s.registry.recordRun(ctx, task.ID, upd); err != nil {
		s.logger.Error("failed to record task run", "task_id", task.ID, "error", err)
	}

	if result.OK() {
		s.logger.Info("task fired",
			"task_id", task.ID,
			"run_count", upd.RunCount,
			"next_run_at", upd.NextRunAt,
		)
	} else {
		s.logger.Warn("task fired with failure",
			"task_id", task.ID,
			"error", result.Error,
		)
	}

	if s.sink != nil {
		s.sink.TaskFired(ctx, task.ID, result)
	}

	if s.hub != nil {
		s.hub.Broadcast("task.fired", map[string]any{
			"task_id":   task.ID,
			"task_name": task.Name,
			"manual":    manual,
			"ok":        result.OK(),
			"run_count": upd.RunCount,
		})
	}
}

// disableAtCap turns off a task whose runCount reached maxRuns.
func (s *Scheduler) disableAtCap(ctx context.Context, task Task) {
	upd := RunUpdate{
		Enabled:     false,
		NextRunAt:   nil,
		LastRunAt:   cloneTimePtr(task.LastRunAt),
		RunCount:    task.RunCount,
		LastError:   cloneStringPtr(task.LastError),
		LastErrorAt: cloneTimePtr(task.LastErrorAt),
	}
	if err := s.registry.recordRun(ctx, task.ID, upd); err != nil {
		s.logger.Error("failed to disable capped task", "task_id", task.ID, "error", err)
		return
	}
	s.logger.Info("task disabled at run cap",
		"task_id", task.ID,
		"run_count", task.RunCount,
		"max_runs", task.MaxRuns,
	)
}
