// Package state maintains the live snapshot of device, sensor, and group
// state that condition trees evaluate against.
//
// The store is fed by the telemetry intake (sensor readings) and by device
// state updates arriving over the transport. Reads always observe a
// consistent value: lookups never see a torn write.
package state

import (
	"sync"
	"time"

	"github.com/bryndle/hearth-core/internal/condition"
	"github.com/bryndle/hearth-core/internal/telemetry"
)

// VariableResolver resolves custom condition leaves. Implemented by the
// variables store.
type VariableResolver interface {
	Lookup(name string) (any, bool)
}

// Store holds the latest observed value for every tracked property.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	devices map[string]map[string]any
	sensors map[string]map[string]float64
	groups  map[string]map[string]any
	seen    map[string]time.Time

	variables VariableResolver
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{
		devices: make(map[string]map[string]any),
		sensors: make(map[string]map[string]float64),
		groups:  make(map[string]map[string]any),
		seen:    make(map[string]time.Time),
	}
}

// SetVariableResolver wires the variables store for custom leaves.
func (s *Store) SetVariableResolver(v VariableResolver) {
	s.variables = v
}

// RecordReading stores the latest sensor value for a device.
func (s *Store) RecordReading(r telemetry.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.sensors[r.DeviceID]
	if !ok {
		values = make(map[string]float64)
		s.sensors[r.DeviceID] = values
	}
	values[r.SensorType] = r.Value

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	s.seen[r.DeviceID] = ts
}

// SetDeviceState replaces the known state properties of a device.
func (s *Store) SetDeviceState(deviceID string, props map[string]any) {
	cpy := make(map[string]any, len(props))
	for k, v := range props {
		cpy[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = cpy
	s.seen[deviceID] = time.Now().UTC()
}

// UpdateDeviceProperty updates one property of a device.
func (s *Store) UpdateDeviceProperty(deviceID, property string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.devices[deviceID]
	if !ok {
		props = make(map[string]any)
		s.devices[deviceID] = props
	}
	props[property] = value
	s.seen[deviceID] = time.Now().UTC()
}

// SetGroupState replaces the known state properties of a group.
func (s *Store) SetGroupState(groupID string, props map[string]any) {
	cpy := make(map[string]any, len(props))
	for k, v := range props {
		cpy[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = cpy
}

// LastSeen returns when a device last reported, if ever.
func (s *Store) LastSeen(deviceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.seen[deviceID]
	return t, ok
}

// SensorValue returns the latest reading value for a device sensor.
func (s *Store) SensorValue(deviceID, sensorType string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.sensors[deviceID]
	if !ok {
		return 0, false
	}
	v, ok := values[sensorType]
	return v, ok
}

// Lookup implements condition.Snapshot. Unknown targets and properties
// report not-found, which the evaluator treats as a false leaf.
func (s *Store) Lookup(typ condition.Type, target, property string) (any, bool) {
	switch typ {
	case condition.TypeSensorValue:
		v, ok := s.SensorValue(target, property)
		if !ok {
			return nil, false
		}
		return v, true

	case condition.TypeDeviceState:
		s.mu.RLock()
		defer s.mu.RUnlock()
		props, ok := s.devices[target]
		if !ok {
			return nil, false
		}
		v, ok := props[property]
		return v, ok

	case condition.TypeGroupState:
		s.mu.RLock()
		defer s.mu.RUnlock()
		props, ok := s.groups[target]
		if !ok {
			return nil, false
		}
		v, ok := props[property]
		return v, ok

	case condition.TypeCustom:
		if s.variables == nil {
			return nil, false
		}
		name := target
		if name == "" {
			name = property
		}
		return s.variables.Lookup(name)

	default:
		// Time leaves are resolved by the evaluator's clock, not here.
		return nil, false
	}
}
