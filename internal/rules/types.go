package rules

import (
	"time"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/condition"
)

// Rule pairs a condition tree with an ordered action list. The engine
// evaluates every enabled rule once per tick and fires it when the tree
// holds and the cooldown and daily-cap gates allow.
type Rule struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Trigger
	Conditions    []condition.Condition `json:"conditions"`
	LogicOperator condition.Logic       `json:"logic_operator"`

	// Actions to execute in order when the rule fires
	Actions []action.Action `json:"actions"`

	// Configuration
	Enabled  bool `json:"enabled"`
	Priority int  `json:"priority"` // 1-100; higher = more important (default 50)

	// Gating
	CooldownSeconds     int `json:"cooldown_seconds"`
	MaxExecutionsPerDay int `json:"max_executions_per_day"` // 0 = unlimited

	// Execution state. Mutated only by the engine through the registry.
	LastExecutedAt      *time.Time `json:"last_executed_at,omitempty"`
	ExecutionCount      int        `json:"execution_count"`
	ExecutionCountToday int        `json:"execution_count_today"`

	// Status view: most recent action failure, if any.
	LastError   *string    `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution is the audit record of one rule firing.
type Execution struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	FiredAt     time.Time       `json:"fired_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Results     []action.Result `json:"results,omitempty"`
	Failed      int             `json:"failed"`
	DurationMS  *int            `json:"duration_ms,omitempty"`
}

// DeepCopy creates a complete independent copy of the Rule so cached
// rules stay isolated from callers.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r
	cpy.Description = cloneStringPtr(r.Description)
	cpy.LastExecutedAt = cloneTimePtr(r.LastExecutedAt)
	cpy.LastError = cloneStringPtr(r.LastError)
	cpy.LastErrorAt = cloneTimePtr(r.LastErrorAt)

	if r.Conditions != nil {
		cpy.Conditions = make([]condition.Condition, len(r.Conditions))
		copy(cpy.Conditions, r.Conditions)
	}
	if r.Actions != nil {
		cpy.Actions = make([]action.Action, len(r.Actions))
		for i, a := range r.Actions {
			cpy.Actions[i] = a.DeepCopy()
		}
	}
	return &cpy
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
