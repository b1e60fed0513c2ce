package rules

import (
	"context"
	"sync"
	"time"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/condition"
)

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// ExecutionSink receives the record of each completed rule firing.
// The audit layer implements this; a nil sink disables the recording.
type ExecutionSink interface {
	RuleFired(ctx context.Context, exec Execution)
}

// defaultTickInterval is how often the engine re-evaluates every
// enabled rule against the current state snapshot.
const defaultTickInterval = 1 * time.Second

// Engine drives the evaluate-and-fire loop.
//
// Each tick it walks the enabled rules in priority order, applies the
// cooldown and daily-cap gates, evaluates the condition tree against
// the shared state snapshot, and fires matching rules. Every firing
// runs on its own goroutine; the actions inside one firing run
// strictly in order through the dispatcher.
//
// A rule never has two firings in flight at once. On shutdown the loop
// stops picking up new work but in-flight firings run to completion.
type Engine struct {
	registry   *Registry
	evaluator  *condition.Evaluator
	dispatcher *action.Dispatcher
	snapshot   condition.Snapshot
	hub        WSHub
	sink       ExecutionSink
	logger     Logger

	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewEngine creates a new rule engine.
//
// Parameters:
//   - registry: rule registry supplying the evaluation set
//   - evaluator: condition evaluator
//   - dispatcher: action dispatcher for firing
//   - snapshot: live device/sensor state for condition lookups
//   - hub: WebSocket hub for firing events (may be nil)
//   - logger: logger instance (may be nil)
func NewEngine(registry *Registry, evaluator *condition.Evaluator, dispatcher *action.Dispatcher, snapshot condition.Snapshot, hub WSHub, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry:   registry,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		snapshot:   snapshot,
		hub:        hub,
		logger:     logger,
		interval:   defaultTickInterval,
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
	}
}

// SetExecutionSink sets the sink that records completed firings.
func (e *Engine) SetExecutionSink(sink ExecutionSink) {
	e.sink = sink
}

// SetInterval overrides the tick interval. Used by tests and config.
func (e *Engine) SetInterval(d time.Duration) {
	if d > 0 {
		e.interval = d
	}
}

// SetNow overrides the clock. Used by tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Run evaluates rules on a fixed tick until ctx is cancelled, then
// waits for in-flight firings to finish.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("rule engine started", "interval", e.interval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("rule engine stopping")
			e.wg.Wait()
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass over all enabled rules.
func (e *Engine) Tick(ctx context.Context) {
	now := e.now().UTC()

	for _, rule := range e.registry.ListEnabled(ctx) {
		if !shouldFire(&rule, now) {
			continue
		}
		if !e.evaluator.Evaluate(rule.Conditions, rule.LogicOperator, e.snapshot) {
			continue
		}
		e.startFiring(ctx, rule, now, "condition")
	}
}

// TriggerNow fires a rule immediately, bypassing condition evaluation
// and the cooldown and daily-cap gates. The firing still counts toward
// them afterwards. Returns ErrDisabled for disabled rules.
func (e *Engine) TriggerNow(ctx context.Context, id string) error {
	rule, err := e.registry.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if !rule.Enabled {
		return ErrDisabled
	}

	e.fire(ctx, *rule, e.now().UTC(), "manual")
	return nil
}

// startFiring launches a firing goroutine unless one is already in
// flight for this rule.
func (e *Engine) startFiring(ctx context.Context, rule Rule, now time.Time, trigger string) {
	e.mu.Lock()
	if _, busy := e.inFlight[rule.ID]; busy {
		e.mu.Unlock()
		return
	}
	e.inFlight[rule.ID] = struct{}{}
	e.mu.Unlock()

	// Detach from the loop context so shutdown does not cut a firing
	// short mid-sequence.
	fireCtx := context.WithoutCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inFlight, rule.ID)
			e.mu.Unlock()
		}()
		e.fire(fireCtx, rule, now, trigger)
	}()
}

// fire executes a rule's actions in order and records the outcome.
func (e *Engine) fire(ctx context.Context, rule Rule, firedAt time.Time, trigger string) {
	e.logger.Info("rule firing",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"trigger", trigger,
		"actions", len(rule.Actions),
	)

	results := e.dispatcher.ExecuteAll(ctx, rule.Actions)

	failed := 0
	var lastError *string
	for _, res := range results {
		if !res.OK() {
			failed++
			msg := res.Error
			lastError = &msg
		}
	}

	completedAt := e.now().UTC()
	duration := int(completedAt.Sub(firedAt).Milliseconds())

	upd := ExecutionUpdate{
		LastExecutedAt:      firedAt,
		ExecutionCount:      rule.ExecutionCount + 1,
		ExecutionCountToday: countTodayAfterFiring(&rule, firedAt),
		LastError:           lastError,
	}
	if lastError != nil {
		at := completedAt
		upd.LastErrorAt = &at
	}
	if err := e.registry.recordExecution(ctx, rule.ID, upd); err != nil {
		e.logger.Error("failed to record rule execution", "rule_id", rule.ID, "error", err)
	}

	if failed > 0 {
		e.logger.Warn("rule fired with failures",
			"rule_id", rule.ID,
			"failed", failed,
			"total", len(results),
			"last_error", *lastError,
		)
	} else {
		e.logger.Info("rule fired",
			"rule_id", rule.ID,
			"actions", len(results),
			"duration_ms", duration,
		)
	}

	if e.sink != nil {
		e.sink.RuleFired(ctx, Execution{
			ID:          GenerateID(),
			RuleID:      rule.ID,
			FiredAt:     firedAt,
			CompletedAt: &completedAt,
			Results:     results,
			Failed:      failed,
			DurationMS:  &duration,
		})
	}

	if e.hub != nil {
		e.hub.Broadcast("rule.fired", map[string]any{
			"rule_id":     rule.ID,
			"rule_name":   rule.Name,
			"trigger":     trigger,
			"failed":      failed,
			"total":       len(results),
			"duration_ms": duration,
		})
	}
}

// shouldFire applies the cooldown and daily-cap gates.
func shouldFire(r *Rule, now time.Time) bool {
	if !r.Enabled {
		return false
	}

	if r.CooldownSeconds > 0 && r.LastExecutedAt != nil {
		if now.Sub(*r.LastExecutedAt) < time.Duration(r.CooldownSeconds)*time.Second {
			return false
		}
	}

	if r.MaxExecutionsPerDay > 0 {
		countToday := r.ExecutionCountToday
		// The daily counter belongs to the day of the last firing; a
		// new day starts the rule at zero.
		if r.LastExecutedAt == nil || !sameDay(*r.LastExecutedAt, now) {
			countToday = 0
		}
		if countToday >= r.MaxExecutionsPerDay {
			return false
		}
	}
	return true
}

// countTodayAfterFiring returns the daily counter value after a firing
// at the given instant.
func countTodayAfterFiring(r *Rule, firedAt time.Time) int {
	if r.LastExecutedAt != nil && sameDay(*r.LastExecutedAt, firedAt) {
		return r.ExecutionCountToday + 1
	}
	return 1
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
