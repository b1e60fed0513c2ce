package rules

import (
	"fmt"
	"strings"

	"github.com/bryndle/hearth-core/internal/action"
	"github.com/bryndle/hearth-core/internal/condition"
)

const (
	minPriority     = 1
	maxPriority     = 100
	defaultPriority = 50

	maxCooldownSeconds = 86400
	maxActionsPerRule  = 50
)

// Validate checks structural correctness of a rule. It does not touch
// storage, so uniqueness of the ID is left to the repository.
func Validate(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}

	if err := condition.ValidateLogic(r.LogicOperator); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for i, c := range r.Conditions {
		if err := condition.Validate(c); err != nil {
			return fmt.Errorf("%w: condition %d: %v", ErrInvalidRule, i, err)
		}
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	if len(r.Actions) > maxActionsPerRule {
		return fmt.Errorf("%w: too many actions (%d, max %d)", ErrInvalidRule, len(r.Actions), maxActionsPerRule)
	}
	for i, a := range r.Actions {
		if err := action.Validate(a); err != nil {
			return fmt.Errorf("%w: action %d: %v", ErrInvalidRule, i, err)
		}
	}

	if r.Priority < minPriority || r.Priority > maxPriority {
		return fmt.Errorf("%w: priority %d out of range %d-%d", ErrInvalidRule, r.Priority, minPriority, maxPriority)
	}
	if r.CooldownSeconds < 0 || r.CooldownSeconds > maxCooldownSeconds {
		return fmt.Errorf("%w: cooldown_seconds %d out of range 0-%d", ErrInvalidRule, r.CooldownSeconds, maxCooldownSeconds)
	}
	if r.MaxExecutionsPerDay < 0 {
		return fmt.Errorf("%w: max_executions_per_day must not be negative", ErrInvalidRule)
	}
	return nil
}

// ApplyDefaults fills zero-valued optional fields.
func ApplyDefaults(r *Rule) {
	if r.Priority == 0 {
		r.Priority = defaultPriority
	}
	if r.LogicOperator == "" {
		r.LogicOperator = condition.LogicAnd
	}
}
