package condition

import (
	"errors"
	"testing"
	"time"
)

// mapSnapshot resolves lookups from a flat map keyed "type/target/property".
type mapSnapshot map[string]any

func (m mapSnapshot) Lookup(typ Type, target, property string) (any, bool) {
	v, ok := m[string(typ)+"/"+target+"/"+property]
	return v, ok
}

func testEvaluator(now time.Time) *Evaluator {
	e := NewEvaluator()
	e.SetNow(func() time.Time { return now })
	return e
}

func TestEvaluate_Comparators(t *testing.T) {
	snap := mapSnapshot{
		"sensor_value/m1/temperature": 92.0,
		"device_state/pump-1/power":   "on",
		"device_state/pump-1/speed":   float64(1450),
		"custom/site/label":           "boiler-room-east",
	}
	e := testEvaluator(time.Now())

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals number", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpEquals, Value: 92}, true},
		{"equals string", Condition{Type: TypeDeviceState, Target: "pump-1", Property: "power", Operator: OpEquals, Value: "on"}, true},
		{"not_equals", Condition{Type: TypeDeviceState, Target: "pump-1", Property: "power", Operator: OpNotEquals, Value: "off"}, true},
		{"greater_than true", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpGreaterThan, Value: 85}, true},
		{"greater_than false", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpGreaterThan, Value: 92}, false},
		{"greater_equal boundary", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpGreaterEqual, Value: 92}, true},
		{"less_than", Condition{Type: TypeDeviceState, Target: "pump-1", Property: "speed", Operator: OpLessThan, Value: 1500}, true},
		{"less_equal", Condition{Type: TypeDeviceState, Target: "pump-1", Property: "speed", Operator: OpLessEqual, Value: 1450}, true},
		{"contains", Condition{Type: TypeCustom, Target: "site", Property: "label", Operator: OpContains, Value: "room"}, true},
		{"contains miss", Condition{Type: TypeCustom, Target: "site", Property: "label", Operator: OpContains, Value: "west"}, false},
		{"in_range inclusive low", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpInRange, Value: []any{92.0, 100.0}}, true},
		{"in_range inclusive high", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpInRange, Value: []any{80.0, 92.0}}, true},
		{"in_range outside", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpInRange, Value: []any{0.0, 50.0}}, false},
		{"in_range object bounds", Condition{Type: TypeSensorValue, Target: "m1", Property: "temperature", Operator: OpInRange, Value: map[string]any{"min": 90.0, "max": 95.0}}, true},
		{"regex full match", Condition{Type: TypeCustom, Target: "site", Property: "label", Operator: OpRegexMatch, Value: `boiler-room-\w+`}, true},
		{"regex partial is not a match", Condition{Type: TypeCustom, Target: "site", Property: "label", Operator: OpRegexMatch, Value: `boiler`}, false},
		{"numeric comparison on string value", Condition{Type: TypeDeviceState, Target: "pump-1", Property: "power", Operator: OpGreaterThan, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate([]Condition{tt.cond}, LogicAnd, snap)
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_MissingValueIsFalse(t *testing.T) {
	e := testEvaluator(time.Now())
	cond := Condition{Type: TypeSensorValue, Target: "ghost", Property: "temperature", Operator: OpEquals, Value: 1}

	if e.Evaluate([]Condition{cond}, LogicAnd, mapSnapshot{}) {
		t.Error("missing value should evaluate false")
	}
	if e.Evaluate([]Condition{cond}, LogicAnd, nil) {
		t.Error("nil snapshot should evaluate false")
	}
}

func TestEvaluate_EmptyListIsTrue(t *testing.T) {
	e := testEvaluator(time.Now())
	for _, logic := range []Logic{LogicAnd, LogicOr, LogicNot} {
		if !e.Evaluate(nil, logic, mapSnapshot{}) {
			t.Errorf("empty condition list with %s should evaluate true", logic)
		}
	}
}

func TestEvaluate_LogicOperators(t *testing.T) {
	snap := mapSnapshot{
		"device_state/a/on": true,
		"device_state/b/on": false,
	}
	condTrue := Condition{Type: TypeDeviceState, Target: "a", Property: "on", Operator: OpEquals, Value: true}
	condFalse := Condition{Type: TypeDeviceState, Target: "b", Property: "on", Operator: OpEquals, Value: true}
	e := testEvaluator(time.Now())

	tests := []struct {
		name  string
		conds []Condition
		logic Logic
		want  bool
	}{
		{"AND all true", []Condition{condTrue, condTrue}, LogicAnd, true},
		{"AND one false", []Condition{condTrue, condFalse}, LogicAnd, false},
		{"OR one true", []Condition{condFalse, condTrue}, LogicOr, true},
		{"OR all false", []Condition{condFalse, condFalse}, LogicOr, false},
		// NOT negates the AND of all leaves, not each leaf.
		{"NOT over true,false", []Condition{condTrue, condFalse}, LogicNot, true},
		{"NOT over true,true", []Condition{condTrue, condTrue}, LogicNot, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.conds, tt.logic, snap)
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_TimeLeaves(t *testing.T) {
	// Friday 2026-01-09 18:30 UTC.
	now := time.Date(2026, 1, 9, 18, 30, 0, 0, time.UTC)
	e := testEvaluator(now)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"hour greater", Condition{Type: TypeTime, Property: "hour", Operator: OpGreaterEqual, Value: 18}, true},
		{"hour less", Condition{Type: TypeTime, Property: "hour", Operator: OpLessThan, Value: 18}, false},
		{"minute equals", Condition{Type: TypeTime, Property: "minute", Operator: OpEquals, Value: 30}, true},
		{"weekday equals", Condition{Type: TypeTime, Property: "weekday", Operator: OpEquals, Value: "friday"}, true},
		{"time equals", Condition{Type: TypeTime, Property: "time", Operator: OpEquals, Value: "18:30"}, true},
		{"date equals", Condition{Type: TypeTime, Property: "date", Operator: OpEquals, Value: "2026-01-09"}, true},
		{"unknown time property", Condition{Type: TypeTime, Property: "epoch", Operator: OpEquals, Value: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate([]Condition{tt.cond}, LogicAnd, nil)
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr error
	}{
		{"valid", Condition{Type: TypeSensorValue, Target: "m1", Property: "t", Operator: OpEquals, Value: 1}, nil},
		{"time leaf needs no target", Condition{Type: TypeTime, Property: "hour", Operator: OpEquals, Value: 9}, nil},
		{"unknown type", Condition{Type: "astral", Target: "x", Operator: OpEquals}, ErrUnknownConditionType},
		{"unknown operator", Condition{Type: TypeCustom, Target: "x", Operator: "approximates"}, ErrUnknownOperator},
		{"missing target", Condition{Type: TypeDeviceState, Operator: OpEquals}, ErrMissingTarget},
		{"bad regex", Condition{Type: TypeCustom, Target: "x", Operator: OpRegexMatch, Value: "("}, ErrInvalidRegex},
		{"bad range", Condition{Type: TypeCustom, Target: "x", Operator: OpInRange, Value: "1-2"}, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cond)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLogic(t *testing.T) {
	for _, l := range []Logic{LogicAnd, LogicOr, LogicNot} {
		if err := ValidateLogic(l); err != nil {
			t.Errorf("ValidateLogic(%s) = %v", l, err)
		}
	}
	if err := ValidateLogic("XOR"); !errors.Is(err, ErrUnknownLogic) {
		t.Errorf("ValidateLogic(XOR) = %v, want ErrUnknownLogic", err)
	}
}
