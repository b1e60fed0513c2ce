package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry and Engine.
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

// GenerateID returns a new unique rule ID.
func GenerateID() string {
	return uuid.New().String()
}

// Registry provides rule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache the engine reads
// every tick.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-updating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Rule
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a new rule registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Rule),
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

// RefreshCache reloads all rules from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Rule, len(rules))
	for i := range rules {
		rule := rules[i]
		r.cache[rule.ID] = rule.DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(rules))
	return nil
}

// GetRule retrieves a rule by ID.
// The returned rule is a deep copy; callers can safely modify it.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrNotFound
}

// ListRules retrieves all rules from the cache.
// Returns deep copies sorted by priority (highest first) then name.
func (r *Registry) ListRules(_ context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules, nil
}

// ListEnabled retrieves enabled rules only, in evaluation order.
func (r *Registry) ListEnabled(_ context.Context) []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var rules []Rule
	for _, rule := range r.cache {
		if rule.Enabled {
			rules = append(rules, *rule.DeepCopy())
		}
	}
	sortRules(rules)
	return rules
}

// sortRules sorts rules by priority descending then name, matching the
// DB query ordering.
func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	ApplyDefaults(rule)

	now := r.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := Validate(rule); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule.
// Execution state is carried over from the cached copy so an edit does
// not reset cooldown or daily-cap accounting.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	ApplyDefaults(rule)

	r.cacheMu.RLock()
	existing, ok := r.cache[rule.ID]
	if ok {
		rule.CreatedAt = existing.CreatedAt
		rule.LastExecutedAt = cloneTimePtr(existing.LastExecutedAt)
		rule.ExecutionCount = existing.ExecutionCount
		rule.ExecutionCountToday = existing.ExecutionCountToday
		rule.LastError = cloneStringPtr(existing.LastError)
		rule.LastErrorAt = cloneTimePtr(existing.LastErrorAt)
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	rule.UpdatedAt = r.now().UTC()

	if err := Validate(rule); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// SetRuleEnabled enables or disables a rule. This is the hook actions
// of type rule_enable and rule_disable go through.
func (r *Registry) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var rule *Rule
	if ok {
		rule = cached.DeepCopy()
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if rule.Enabled == enabled {
		return nil
	}
	rule.Enabled = enabled
	rule.UpdatedAt = r.now().UTC()

	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[id] = rule
	r.cacheMu.Unlock()

	r.logger.Info("rule toggled", "id", id, "enabled", enabled)
	return nil
}

// recordExecution persists execution bookkeeping and mirrors it into
// the cache. Called by the engine after each firing.
func (r *Registry) recordExecution(ctx context.Context, id string, upd ExecutionUpdate) error {
	if err := r.repo.RecordExecution(ctx, id, upd); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		at := upd.LastExecutedAt
		cached.LastExecutedAt = &at
		cached.ExecutionCount = upd.ExecutionCount
		cached.ExecutionCountToday = upd.ExecutionCountToday
		cached.LastError = cloneStringPtr(upd.LastError)
		cached.LastErrorAt = cloneTimePtr(upd.LastErrorAt)
	}
	r.cacheMu.Unlock()
	return nil
}

// GetRuleCount returns the number of cached rules.
func (r *Registry) GetRuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
