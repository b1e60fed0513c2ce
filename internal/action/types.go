package action

import (
	"fmt"
	"time"
)

// Type is the closed set of action kinds the dispatcher can execute.
// Dispatch is an exhaustive switch; adding a constant here without a
// dispatcher case is caught by the default branch tests.
type Type string

const (
	TypeDeviceControl Type = "device_control"
	TypeGroupControl  Type = "group_control"
	TypeSceneActivate Type = "scene_activate"
	TypeNotification  Type = "notification"
	TypeDelay         Type = "delay"
	TypeVariableSet   Type = "variable_set"
	TypeRuleEnable    Type = "rule_enable"
	TypeRuleDisable   Type = "rule_disable"
	TypeCustomScript  Type = "custom_script"
)

// AllTypes returns all valid action types.
func AllTypes() []Type {
	return []Type{
		TypeDeviceControl,
		TypeGroupControl,
		TypeSceneActivate,
		TypeNotification,
		TypeDelay,
		TypeVariableSet,
		TypeRuleEnable,
		TypeRuleDisable,
		TypeCustomScript,
	}
}

// Action is a single step in a rule's or task's action list.
type Action struct {
	ID      string `json:"id,omitempty"`
	Type    Type   `json:"type"`
	Target  string `json:"target,omitempty"`
	Command string `json:"command,omitempty"`

	// Parameters are passed through to the collaborator untouched.
	Parameters map[string]any `json:"parameters,omitempty"`

	// DelaySeconds suspends this action's own execution path before the
	// action runs. It never delays other concurrently firing rules or tasks.
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

// Result is the normalized outcome of one executed action, shaped so the
// rule engine and scheduler can log and persist identically.
type Result struct {
	ActionID string        `json:"action_id,omitempty"`
	Type     Type          `json:"type"`
	Target   string        `json:"target,omitempty"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// OK reports whether the action completed without error.
func (r Result) OK() bool {
	return r.Error == ""
}

// DeepCopy creates an independent copy of the Action, cloning the
// Parameters map so cached rules are isolated from callers.
func (a Action) DeepCopy() Action {
	cpy := a
	if a.Parameters != nil {
		cpy.Parameters = deepCopyMap(a.Parameters)
	}
	return cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// Validation limits.
const (
	maxDelaySeconds  = 300
	maxParameterKeys = 20
)

// Validate checks an action for structural problems at save time.
func Validate(a Action) error {
	if _, ok := validActionTypes[a.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	if a.DelaySeconds < 0 || a.DelaySeconds > maxDelaySeconds {
		return fmt.Errorf("%w: delay_seconds must be 0-%d", ErrInvalidAction, maxDelaySeconds)
	}
	if len(a.Parameters) > maxParameterKeys {
		return fmt.Errorf("%w: parameters exceeds %d keys", ErrInvalidAction, maxParameterKeys)
	}

	switch a.Type {
	case TypeDeviceControl:
		if a.Target == "" {
			return fmt.Errorf("%w: device_control requires a target", ErrInvalidAction)
		}
		if a.Command == "" {
			return fmt.Errorf("%w: device_control requires a command", ErrInvalidAction)
		}
	case TypeGroupControl:
		if a.Target == "" {
			return fmt.Errorf("%w: group_control requires a target", ErrInvalidAction)
		}
		if a.Command == "" {
			return fmt.Errorf("%w: group_control requires a command", ErrInvalidAction)
		}
	case TypeSceneActivate, TypeRuleEnable, TypeRuleDisable:
		if a.Target == "" {
			return fmt.Errorf("%w: %s requires a target", ErrInvalidAction, a.Type)
		}
	case TypeVariableSet:
		if a.Target == "" {
			return fmt.Errorf("%w: variable_set requires a variable name", ErrInvalidAction)
		}
		if _, ok := a.Parameters["value"]; !ok {
			return fmt.Errorf("%w: variable_set requires parameters.value", ErrInvalidAction)
		}
	case TypeNotification:
		if _, ok := a.Parameters["message"]; !ok {
			return fmt.Errorf("%w: notification requires parameters.message", ErrInvalidAction)
		}
	case TypeDelay:
		if a.DelaySeconds == 0 && delayFromParameters(a.Parameters) == 0 {
			return fmt.Errorf("%w: delay requires a duration", ErrInvalidAction)
		}
	case TypeCustomScript:
		if a.Target == "" && a.Command == "" {
			return fmt.Errorf("%w: custom_script requires a script reference", ErrInvalidAction)
		}
	}
	return nil
}

var validActionTypes map[Type]struct{}

func init() {
	validActionTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validActionTypes[t] = struct{}{}
	}
}
