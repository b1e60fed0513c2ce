// Package telemetry evaluates incoming sensor readings against configured
// thresholds and raises alarms.
//
// The monitor keeps thresholds in an in-memory cache over the repository,
// applies bound precedence so a reading raises at most one alarm, and
// suppresses duplicate alarms inside a sliding window. Raised alarms are
// persisted and fanned out to registered sinks (escalation, dashboards,
// history).
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dedupWindow is the default suppression window for duplicate alarms.
const dedupWindow = 5 * time.Minute

// Logger is the minimal logging interface the monitor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AlarmSink receives alarms as they are raised. Implementations must not
// block; slow consumers should buffer internally.
type AlarmSink interface {
	AlarmRaised(ctx context.Context, alarm Alarm)
}

// Monitor evaluates readings against thresholds and raises alarms.
//
// Thread Safety: all public methods are safe for concurrent use.
type Monitor struct {
	repo   Repository
	logger Logger

	// thresholds caches configured thresholds by device/sensor.
	thresholds map[string]*Threshold
	threshMu   sync.RWMutex

	// recent tracks the last raise time per dedup key.
	recent   map[dedupKey]time.Time
	recentMu sync.Mutex

	window time.Duration
	sinks  []AlarmSink
	now    func() time.Time
}

// NewMonitor creates a monitor over the given repository.
func NewMonitor(repo Repository) *Monitor {
	return &Monitor{
		repo:       repo,
		logger:     noopLogger{},
		thresholds: make(map[string]*Threshold),
		recent:     make(map[dedupKey]time.Time),
		window:     dedupWindow,
		now:        time.Now,
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetNow overrides the clock source. Intended for tests.
func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

// SetDedupWindow overrides the duplicate suppression window.
func (m *Monitor) SetDedupWindow(window time.Duration) {
	if window > 0 {
		m.window = window
	}
}

// AddSink registers a sink for raised alarms. Not safe to call after the
// monitor starts processing readings.
func (m *Monitor) AddSink(sink AlarmSink) {
	m.sinks = append(m.sinks, sink)
}

// RefreshCache reloads all thresholds from the repository.
// Called on startup and after configuration changes.
func (m *Monitor) RefreshCache(ctx context.Context) error {
	thresholds, err := m.repo.ListThresholds(ctx)
	if err != nil {
		return fmt.Errorf("loading thresholds: %w", err)
	}

	m.threshMu.Lock()
	defer m.threshMu.Unlock()

	m.thresholds = make(map[string]*Threshold, len(thresholds))
	for i := range thresholds {
		t := thresholds[i]
		m.thresholds[thresholdKey(t.DeviceID, t.SensorType)] = t.DeepCopy()
	}

	m.logger.Info("threshold cache refreshed", "count", len(thresholds))
	return nil
}

// SetThreshold validates, persists, and caches a threshold.
func (m *Monitor) SetThreshold(ctx context.Context, t *Threshold) error {
	if err := ValidateThreshold(t); err != nil {
		return err
	}
	t.UpdatedAt = m.now().UTC()
	if err := m.repo.UpsertThreshold(ctx, t); err != nil {
		return err
	}

	m.threshMu.Lock()
	m.thresholds[thresholdKey(t.DeviceID, t.SensorType)] = t.DeepCopy()
	m.threshMu.Unlock()

	m.logger.Info("threshold configured", "device_id", t.DeviceID, "sensor_type", t.SensorType)
	return nil
}

// DeleteThreshold removes a threshold from persistence and cache.
func (m *Monitor) DeleteThreshold(ctx context.Context, deviceID, sensorType string) error {
	if err := m.repo.DeleteThreshold(ctx, deviceID, sensorType); err != nil {
		return err
	}
	m.threshMu.Lock()
	delete(m.thresholds, thresholdKey(deviceID, sensorType))
	m.threshMu.Unlock()
	return nil
}

// GetThreshold returns the configured threshold for a device sensor.
func (m *Monitor) GetThreshold(deviceID, sensorType string) (*Threshold, error) {
	m.threshMu.RLock()
	defer m.threshMu.RUnlock()
	t, ok := m.thresholds[thresholdKey(deviceID, sensorType)]
	if !ok {
		return nil, ErrThresholdNotFound
	}
	return t.DeepCopy(), nil
}

// ListThresholds returns all cached thresholds.
func (m *Monitor) ListThresholds() []Threshold {
	m.threshMu.RLock()
	defer m.threshMu.RUnlock()
	out := make([]Threshold, 0, len(m.thresholds))
	for _, t := range m.thresholds {
		out = append(out, *t.DeepCopy())
	}
	return out
}

// Process evaluates a reading, raising and persisting at most one alarm.
// A reading with no configured threshold is a no-op. Persistence failures
// are logged; the raised alarm still reaches the sinks so escalation and
// dashboards are not blinded by a storage hiccup.
func (m *Monitor) Process(ctx context.Context, reading SensorReading) {
	m.threshMu.RLock()
	threshold, ok := m.thresholds[thresholdKey(reading.DeviceID, reading.SensorType)]
	m.threshMu.RUnlock()
	if !ok {
		return
	}

	alarm, breached := Evaluate(reading, threshold)
	if !breached {
		return
	}

	if m.suppressed(alarm) {
		m.logger.Debug("duplicate alarm suppressed",
			"device_id", alarm.DeviceID,
			"alarm_type", alarm.AlarmType,
		)
		return
	}

	if err := m.repo.CreateAlarm(ctx, &alarm); err != nil {
		m.logger.Error("failed to persist alarm", "alarm_id", alarm.ID, "error", err)
	}

	m.logger.Warn("alarm raised",
		"alarm_id", alarm.ID,
		"device_id", alarm.DeviceID,
		"alarm_type", alarm.AlarmType,
		"severity", string(alarm.Severity),
		"value", alarm.Value,
	)

	for _, sink := range m.sinks {
		sink.AlarmRaised(ctx, alarm)
	}
}

// suppressed reports whether an identical alarm was raised inside the
// dedup window, recording this raise time if not.
func (m *Monitor) suppressed(alarm Alarm) bool {
	key := dedupKey{deviceID: alarm.DeviceID, alarmType: alarm.AlarmType, message: alarm.Message}
	now := m.now()

	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	if last, ok := m.recent[key]; ok && now.Sub(last) < m.window {
		return true
	}
	m.recent[key] = now

	// Opportunistic cleanup keeps the map bounded under alarm churn.
	for k, t := range m.recent {
		if now.Sub(t) >= m.window {
			delete(m.recent, k)
		}
	}
	return false
}

// Evaluate checks a reading against a threshold and builds the alarm for
// the most severe breached bound. Precedence when multiple bounds are
// breached: criticalMax > criticalMin > max > min, so a reading yields at
// most one alarm.
func Evaluate(reading SensorReading, t *Threshold) (Alarm, bool) {
	if t == nil {
		return Alarm{}, false
	}

	var (
		boundName  string
		boundValue float64
		severity   Severity
		direction  string
	)

	switch {
	case t.CriticalMax != nil && reading.Value > *t.CriticalMax:
		boundName, boundValue, severity, direction = "critical_max", *t.CriticalMax, SeverityCritical, "high"
	case t.CriticalMin != nil && reading.Value < *t.CriticalMin:
		boundName, boundValue, severity, direction = "critical_min", *t.CriticalMin, SeverityCritical, "low"
	case t.Max != nil && reading.Value > *t.Max:
		boundName, boundValue, severity, direction = "max", *t.Max, SeverityWarning, "high"
	case t.Min != nil && reading.Value < *t.Min:
		boundName, boundValue, severity, direction = "min", *t.Min, SeverityWarning, "low"
	default:
		return Alarm{}, false
	}

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return Alarm{
		ID:        uuid.NewString(),
		DeviceID:  reading.DeviceID,
		AlarmType: reading.SensorType + "_" + direction,
		Severity:  severity,
		Message: fmt.Sprintf("%s %g%s breaches %s %g",
			reading.SensorType, reading.Value, reading.Unit, boundName, boundValue),
		Value:     reading.Value,
		Timestamp: ts,
	}, true
}

// ValidateThreshold rejects malformed thresholds at configuration time.
func ValidateThreshold(t *Threshold) error {
	if t == nil || t.DeviceID == "" || t.SensorType == "" {
		return fmt.Errorf("%w: device_id and sensor_type are required", ErrInvalidThreshold)
	}
	if t.Min == nil && t.Max == nil && t.CriticalMin == nil && t.CriticalMax == nil {
		return fmt.Errorf("%w: at least one bound is required", ErrInvalidThreshold)
	}
	if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
		return fmt.Errorf("%w: min exceeds max", ErrInvalidThreshold)
	}
	if t.CriticalMin != nil && t.CriticalMax != nil && *t.CriticalMin > *t.CriticalMax {
		return fmt.Errorf("%w: critical_min exceeds critical_max", ErrInvalidThreshold)
	}
	return nil
}

func thresholdKey(deviceID, sensorType string) string {
	return deviceID + "/" + sensorType
}
