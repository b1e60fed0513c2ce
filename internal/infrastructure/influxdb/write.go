package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

// WriteSensorReading records a device sensor reading.
//
// This is the primary method for recording telemetry history. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteSensorReading(reading) // greenhouse-1/temperature = 21.5
func (c *Client) WriteSensorReading(reading telemetry.SensorReading) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id":   reading.DeviceID,
		"sensor_type": reading.SensorType,
	}
	if reading.Unit != "" {
		tags["unit"] = reading.Unit
	}

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		"sensor_readings",
		tags,
		map[string]interface{}{
			"value": reading.Value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// AlarmRaised records a raised alarm as a time-series event.
//
// It satisfies the telemetry monitor's alarm sink contract, so alarm
// history in InfluxDB accrues alongside the authoritative SQLite rows.
func (c *Client) AlarmRaised(_ context.Context, alarm telemetry.Alarm) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"alarms",
		map[string]string{
			"device_id":  alarm.DeviceID,
			"alarm_type": alarm.AlarmType,
			"severity":   string(alarm.Severity),
		},
		map[string]interface{}{
			"value":   alarm.Value,
			"message": alarm.Message,
		},
		alarm.Timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
