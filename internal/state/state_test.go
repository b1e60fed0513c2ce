package state

import (
	"testing"
	"time"

	"github.com/bryndle/hearth-core/internal/condition"
	"github.com/bryndle/hearth-core/internal/telemetry"
)

type staticVars map[string]any

func (v staticVars) Lookup(name string) (any, bool) {
	val, ok := v[name]
	return val, ok
}

func TestStore_SensorLookup(t *testing.T) {
	s := NewStore()
	s.RecordReading(telemetry.SensorReading{
		DeviceID: "m1", SensorType: "temperature", Value: 92, Timestamp: time.Now(),
	})

	v, ok := s.Lookup(condition.TypeSensorValue, "m1", "temperature")
	if !ok || v != 92.0 {
		t.Errorf("Lookup = (%v, %v), want (92, true)", v, ok)
	}
	if _, ok := s.Lookup(condition.TypeSensorValue, "m1", "humidity"); ok {
		t.Error("unknown sensor should miss")
	}
	if _, ok := s.Lookup(condition.TypeSensorValue, "ghost", "temperature"); ok {
		t.Error("unknown device should miss")
	}
}

func TestStore_DeviceAndGroupLookup(t *testing.T) {
	s := NewStore()
	s.SetDeviceState("pump-1", map[string]any{"power": "on", "speed": 1450})
	s.UpdateDeviceProperty("pump-1", "power", "off")
	s.SetGroupState("floor-2", map[string]any{"occupied": true})

	if v, ok := s.Lookup(condition.TypeDeviceState, "pump-1", "power"); !ok || v != "off" {
		t.Errorf("device power = (%v, %v)", v, ok)
	}
	if v, ok := s.Lookup(condition.TypeGroupState, "floor-2", "occupied"); !ok || v != true {
		t.Errorf("group occupied = (%v, %v)", v, ok)
	}
	if _, ok := s.Lookup(condition.TypeDeviceState, "pump-1", "mass"); ok {
		t.Error("unknown property should miss")
	}
}

func TestStore_SetDeviceStateCopiesInput(t *testing.T) {
	s := NewStore()
	props := map[string]any{"power": "on"}
	s.SetDeviceState("d", props)
	props["power"] = "mutated"

	if v, _ := s.Lookup(condition.TypeDeviceState, "d", "power"); v != "on" {
		t.Errorf("store shares caller's map: %v", v)
	}
}

func TestStore_CustomDelegatesToVariables(t *testing.T) {
	s := NewStore()
	if _, ok := s.Lookup(condition.TypeCustom, "mode", ""); ok {
		t.Error("custom lookup without resolver should miss")
	}

	s.SetVariableResolver(staticVars{"mode": "night"})
	if v, ok := s.Lookup(condition.TypeCustom, "mode", ""); !ok || v != "night" {
		t.Errorf("custom lookup = (%v, %v)", v, ok)
	}
}

func TestStore_LastSeen(t *testing.T) {
	s := NewStore()
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.RecordReading(telemetry.SensorReading{DeviceID: "m1", SensorType: "t", Value: 1, Timestamp: ts})

	seen, ok := s.LastSeen("m1")
	if !ok || !seen.Equal(ts) {
		t.Errorf("LastSeen = (%v, %v)", seen, ok)
	}
	if _, ok := s.LastSeen("ghost"); ok {
		t.Error("unseen device should miss")
	}
}
