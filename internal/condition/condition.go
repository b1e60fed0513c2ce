// Package condition evaluates boolean condition trees against a state snapshot.
//
// A condition tree is a flat list of leaves combined by a single logic
// operator. Leaves read values from a Snapshot (device state, sensor values,
// group state, variables) or from the wall clock (time leaves). Evaluation
// never fails: a value that cannot be resolved or compared makes the leaf
// false. Structural problems (unknown operators, bad regex) are rejected at
// save time by Validate.
package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type identifies where a leaf's value is read from.
type Type string

const (
	TypeTime        Type = "time"
	TypeDeviceState Type = "device_state"
	TypeSensorValue Type = "sensor_value"
	TypeGroupState  Type = "group_state"
	TypeCustom      Type = "custom"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpInRange      Operator = "in_range"
	OpRegexMatch   Operator = "regex_match"
)

// Logic combines the leaves of a tree.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"

	// LogicNot negates the conjunction of all leaves, not each leaf
	// individually: NOT over [true, false] is true.
	LogicNot Logic = "NOT"
)

// Condition is a single leaf of a tree. Immutable once its rule is saved.
type Condition struct {
	Type     Type     `json:"type"`
	Target   string   `json:"target,omitempty"`
	Property string   `json:"property,omitempty"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Snapshot resolves leaf values from live system state.
// A false second return means the value is unknown, which evaluates the
// leaf to false rather than raising an error.
type Snapshot interface {
	Lookup(typ Type, target, property string) (any, bool)
}

// Validation errors returned at save time.
var (
	ErrUnknownConditionType = errors.New("condition: unknown type")
	ErrUnknownOperator      = errors.New("condition: unknown operator")
	ErrUnknownLogic         = errors.New("condition: unknown logic operator")
	ErrInvalidRegex         = errors.New("condition: invalid regex")
	ErrInvalidRange         = errors.New("condition: in_range needs [min, max]")
	ErrMissingTarget        = errors.New("condition: target is required")
)

var validTypes = map[Type]struct{}{
	TypeTime: {}, TypeDeviceState: {}, TypeSensorValue: {}, TypeGroupState: {}, TypeCustom: {},
}

var validOperators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpGreaterThan: {}, OpLessThan: {},
	OpGreaterEqual: {}, OpLessEqual: {}, OpContains: {}, OpInRange: {}, OpRegexMatch: {},
}

// ValidateLogic checks a tree's logic operator.
func ValidateLogic(l Logic) error {
	switch l {
	case LogicAnd, LogicOr, LogicNot:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogic, l)
	}
}

// Validate checks a single leaf for structural problems.
func Validate(c Condition) error {
	if _, ok := validTypes[c.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, c.Type)
	}
	if _, ok := validOperators[c.Operator]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	if c.Type != TypeTime && c.Target == "" {
		return ErrMissingTarget
	}
	switch c.Operator {
	case OpRegexMatch:
		pattern, _ := c.Value.(string)
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidRegex, pattern)
		}
	case OpInRange:
		if _, _, ok := rangeBounds(c.Value); !ok {
			return ErrInvalidRange
		}
	}
	return nil
}

// Evaluator evaluates condition trees. The zero value is not usable;
// construct with NewEvaluator.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an evaluator reading time leaves from the real clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// SetNow overrides the clock source. Intended for tests.
func (e *Evaluator) SetNow(now func() time.Time) {
	e.now = now
}

// Evaluate evaluates a condition tree against the snapshot.
// An empty leaf list always evaluates true.
func (e *Evaluator) Evaluate(conditions []Condition, logic Logic, snap Snapshot) bool {
	if len(conditions) == 0 {
		return true
	}

	switch logic {
	case LogicOr:
		for _, c := range conditions {
			if e.leaf(c, snap) {
				return true
			}
		}
		return false
	case LogicNot:
		return !e.all(conditions, snap)
	default: // AND, and anything unknown that slipped past validation
		return e.all(conditions, snap)
	}
}

func (e *Evaluator) all(conditions []Condition, snap Snapshot) bool {
	for _, c := range conditions {
		if !e.leaf(c, snap) {
			return false
		}
	}
	return true
}

// leaf resolves and compares a single condition. Unresolvable values and
// type mismatches evaluate false.
func (e *Evaluator) leaf(c Condition, snap Snapshot) bool {
	var actual any
	if c.Type == TypeTime {
		var ok bool
		actual, ok = e.timeField(c.Property)
		if !ok {
			return false
		}
	} else {
		if snap == nil {
			return false
		}
		var ok bool
		actual, ok = snap.Lookup(c.Type, c.Target, c.Property)
		if !ok {
			return false
		}
	}
	return compare(actual, c.Operator, c.Value)
}

// timeField resolves a time-leaf property from the wall clock.
func (e *Evaluator) timeField(property string) (any, bool) {
	now := e.now()
	switch property {
	case "hour":
		return float64(now.Hour()), true
	case "minute":
		return float64(now.Minute()), true
	case "weekday":
		return strings.ToLower(now.Weekday().String()), true
	case "time", "":
		return now.Format("15:04"), true
	case "date":
		return now.Format("2006-01-02"), true
	default:
		return nil, false
	}
}

// compare applies the operator to the resolved and configured values.
func compare(actual any, op Operator, expected any) bool {
	switch op {
	case OpEquals:
		return looseEqual(actual, expected)
	case OpNotEquals:
		return !looseEqual(actual, expected)
	case OpGreaterThan:
		a, b, ok := numericPair(actual, expected)
		return ok && a > b
	case OpLessThan:
		a, b, ok := numericPair(actual, expected)
		return ok && a < b
	case OpGreaterEqual:
		a, b, ok := numericPair(actual, expected)
		return ok && a >= b
	case OpLessEqual:
		a, b, ok := numericPair(actual, expected)
		return ok && a <= b
	case OpContains:
		hay, ok1 := stringValue(actual)
		needle, ok2 := stringValue(expected)
		return ok1 && ok2 && strings.Contains(hay, needle)
	case OpInRange:
		v, ok := numericValue(actual)
		if !ok {
			return false
		}
		lo, hi, ok := rangeBounds(expected)
		return ok && v >= lo && v <= hi
	case OpRegexMatch:
		s, ok1 := stringValue(actual)
		pattern, ok2 := expected.(string)
		if !ok1 || !ok2 {
			return false
		}
		re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

// looseEqual compares values with numeric coercion so that JSON round-trips
// (int vs float64) and string-encoded numbers still compare equal.
func looseEqual(a, b any) bool {
	if na, ok := numericValue(a); ok {
		if nb, ok := numericValue(b); ok {
			return na == nb
		}
	}
	if sa, ok := stringValue(a); ok {
		if sb, ok := stringValue(b); ok {
			return sa == sb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
	}
	return false
}

// numericPair coerces both sides to float64.
func numericPair(a, b any) (float64, float64, bool) {
	na, ok1 := numericValue(a)
	nb, ok2 := numericValue(b)
	return na, nb, ok1 && ok2
}

// numericValue coerces a value to float64. Strings are parsed so that
// snapshot values stored as text still take part in numeric comparisons.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// stringValue coerces a value to its string representation.
func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// rangeBounds extracts [min, max] from an in_range value, accepting either
// a two-element array or a {"min": x, "max": y} object.
func rangeBounds(v any) (lo, hi float64, ok bool) {
	switch bounds := v.(type) {
	case []any:
		if len(bounds) != 2 {
			return 0, 0, false
		}
		lo, ok1 := numericValue(bounds[0])
		hi, ok2 := numericValue(bounds[1])
		return lo, hi, ok1 && ok2
	case []float64:
		if len(bounds) != 2 {
			return 0, 0, false
		}
		return bounds[0], bounds[1], true
	case map[string]any:
		lo, ok1 := numericValue(bounds["min"])
		hi, ok2 := numericValue(bounds["max"])
		return lo, hi, ok1 && ok2
	default:
		return 0, 0, false
	}
}
