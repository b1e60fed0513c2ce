package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryndle/hearth-core/internal/schedule"
)

// Logger defines the logging interface used by the Registry and Scheduler.
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

// Registry provides task management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache the scheduler reads
// every tick.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Task
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a new task registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Task),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNow overrides the clock. Used by tests.
func (r *Registry) SetNow(now func() time.Time) {
	r.now = now
}

// RefreshCache reloads all tasks from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	tasks, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Task, len(tasks))
	for i := range tasks {
		task := tasks[i]
		r.cache[task.ID] = task.DeepCopy()
	}

	r.logger.Info("task cache refreshed", "count", len(tasks))
	return nil
}

// GetTask retrieves a task by ID.
// The returned task is a deep copy; callers can safely modify it.
func (r *Registry) GetTask(_ context.Context, id string) (*Task, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrNotFound
}

// ListTasks retrieves all tasks from the cache sorted by name.
func (r *Registry) ListTasks(_ context.Context) ([]Task, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	tasks := make([]Task, 0, len(r.cache))
	for _, t := range r.cache {
		tasks = append(tasks, *t.DeepCopy())
	}
	sortTasks(tasks)
	return tasks, nil
}

// ListEnabled retrieves enabled tasks only, sorted by name.
func (r *Registry) ListEnabled(_ context.Context) []Task {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var tasks []Task
	for _, t := range r.cache {
		if t.Enabled {
			tasks = append(tasks, *t.DeepCopy())
		}
	}
	sortTasks(tasks)
	return tasks
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
}

// CreateTask validates, persists, and caches a new task. The first
// nextRunAt is computed at save time.
func (r *Registry) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}

	now := r.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := Validate(t); err != nil {
		return err
	}

	if next, ok := schedule.NextRun(t.ScheduleType, t.ScheduleConfig, now); ok {
		t.NextRunAt = &next
	} else {
		t.NextRunAt = nil
	}

	if err := r.repo.Create(ctx, t); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[t.ID] = t.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("task created", "id", t.ID, "name", t.Name, "next_run_at", t.NextRunAt)
	return nil
}

// UpdateTask validates, persists, and updates the cached task. Run
// state is carried over from the cached copy; nextRunAt is recomputed
// because the schedule may have changed.
func (r *Registry) UpdateTask(ctx context.Context, t *Task) error {
	r.cacheMu.RLock()
	existing, ok := r.cache[t.ID]
	if ok {
		t.CreatedAt = existing.CreatedAt
		t.LastRunAt = cloneTimePtr(existing.LastRunAt)
		t.RunCount = existing.RunCount
		t.LastError = cloneStringPtr(existing.LastError)
		t.LastErrorAt = cloneTimePtr(existing.LastErrorAt)
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	now := r.now().UTC()
	t.UpdatedAt = now

	if err := Validate(t); err != nil {
		return err
	}

	if next, ok := schedule.NextRun(t.ScheduleType, t.ScheduleConfig, now); ok {
		t.NextRunAt = &next
	} else {
		t.NextRunAt = nil
	}

	if err := r.repo.Update(ctx, t); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[t.ID] = t.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("task updated", "id", t.ID, "name", t.Name, "next_run_at", t.NextRunAt)
	return nil
}

// DeleteTask removes a task from persistence and cache.
func (r *Registry) DeleteTask(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("task deleted", "id", id)
	return nil
}

// SetTaskEnabled enables or disables a task. Re-enabling recomputes
// nextRunAt from the current instant so a long-disabled task does not
// fire immediately on a stale due time.
func (r *Registry) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var task *Task
	if ok {
		task = cached.DeepCopy()
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if task.Enabled == enabled {
		return nil
	}

	now := r.now().UTC()
	task.Enabled = enabled
	task.UpdatedAt = now
	if enabled {
		if next, nextOK := schedule.NextRun(task.ScheduleType, task.ScheduleConfig, now); nextOK {
			task.NextRunAt = &next
		} else {
			task.NextRunAt = nil
		}
	}

	if err := r.repo.Update(ctx, task); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[id] = task
	r.cacheMu.Unlock()

	r.logger.Info("task toggled", "id", id, "enabled", enabled)
	return nil
}

// recordRun persists run bookkeeping and mirrors it into the cache.
// Called by the scheduler after each run or maxRuns disable.
func (r *Registry) recordRun(ctx context.Context, id string, upd RunUpdate) error {
	if err := r.repo.RecordRun(ctx, id, upd); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		cached.Enabled = upd.Enabled
		cached.NextRunAt = cloneTimePtr(upd.NextRunAt)
		cached.LastRunAt = cloneTimePtr(upd.LastRunAt)
		cached.RunCount = upd.RunCount
		cached.LastError = cloneStringPtr(upd.LastError)
		cached.LastErrorAt = cloneTimePtr(upd.LastErrorAt)
	}
	r.cacheMu.Unlock()
	return nil
}

// GetTaskCount returns the number of cached tasks.
func (r *Registry) GetTaskCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
