package telemetry

import "time"

// SensorReading is a single telemetry sample produced by a device.
// Readings are immutable; the engine never writes them back.
type SensorReading struct {
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Threshold holds the configured alarm bounds for one device sensor.
// A nil bound is not checked. Mutated only through the configuration API.
type Threshold struct {
	DeviceID   string `json:"device_id"`
	SensorType string `json:"sensor_type"`

	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	CriticalMin *float64 `json:"critical_min,omitempty"`
	CriticalMax *float64 `json:"critical_max,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Threshold.
func (t *Threshold) DeepCopy() *Threshold {
	if t == nil {
		return nil
	}
	cpy := *t
	cpy.Min = cloneFloatPtr(t.Min)
	cpy.Max = cloneFloatPtr(t.Max)
	cpy.CriticalMin = cloneFloatPtr(t.CriticalMin)
	cpy.CriticalMax = cloneFloatPtr(t.CriticalMax)
	return &cpy
}

func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Severity classifies an alarm.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alarm records a detected threshold breach for one sensor reading.
// Alarms are acknowledged by operator action and removed only by the
// retention sweep.
type Alarm struct {
	ID             string     `json:"id"`
	DeviceID       string     `json:"device_id"`
	AlarmType      string     `json:"alarm_type"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	Value          float64    `json:"value"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}

// dedupKey identifies alarms considered duplicates within the suppression
// window: same device, same alarm type, same message.
type dedupKey struct {
	deviceID  string
	alarmType string
	message   string
}
