package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bryndle/hearth-core/internal/telemetry"
)

// ReadingProcessor checks a sensor reading against thresholds.
// Implemented by telemetry.Monitor.
type ReadingProcessor interface {
	Process(ctx context.Context, reading telemetry.SensorReading)
}

// ReadingRecorder stores the latest sensor value for rule evaluation.
// Implemented by state.Store.
type ReadingRecorder interface {
	RecordReading(reading telemetry.SensorReading)
}

// telemetryMessage is the wire format on hearth/telemetry/{device}/{sensor}.
// The device and sensor identifiers come from the topic, not the payload.
type telemetryMessage struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// TelemetryIngest subscribes to device telemetry and feeds each reading
// to the state store and the threshold monitor, in that order, so rule
// conditions never see a value older than the alarm that announced it.
type TelemetryIngest struct {
	client    *Client
	processor ReadingProcessor
	recorder  ReadingRecorder
	logger    Logger
	now       func() time.Time
}

// NewTelemetryIngest creates a TelemetryIngest. Either sink may be nil.
func NewTelemetryIngest(client *Client, processor ReadingProcessor, recorder ReadingRecorder, logger Logger) *TelemetryIngest {
	return &TelemetryIngest{
		client:    client,
		processor: processor,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Start subscribes to hearth/telemetry/+/+ at the given QoS.
// Incoming readings are handled on paho's handler goroutines.
func (ti *TelemetryIngest) Start(ctx context.Context, qos byte) error {
	return ti.client.Subscribe(Topics{}.AllTelemetry(), qos, func(topic string, payload []byte) error {
		return ti.handle(ctx, topic, payload)
	})
}

func (ti *TelemetryIngest) handle(ctx context.Context, topic string, payload []byte) error {
	deviceID, sensorType, err := parseTelemetryTopic(topic)
	if err != nil {
		return err
	}

	var msg telemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding telemetry from %s: %w", topic, err)
	}

	ts := ti.now().UTC()
	if msg.Timestamp != "" {
		if parsed, perr := time.Parse(time.RFC3339, msg.Timestamp); perr == nil {
			ts = parsed
		}
	}

	reading := telemetry.SensorReading{
		DeviceID:   deviceID,
		SensorType: sensorType,
		Value:      msg.Value,
		Unit:       msg.Unit,
		Timestamp:  ts,
	}

	if ti.recorder != nil {
		ti.recorder.RecordReading(reading)
	}
	if ti.processor != nil {
		ti.processor.Process(ctx, reading)
	}

	return nil
}

// parseTelemetryTopic extracts device and sensor IDs from
// hearth/telemetry/{device}/{sensor}.
func parseTelemetryTopic(topic string) (deviceID, sensorType string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "telemetry" || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("%w: %q is not a telemetry topic", ErrInvalidTopic, topic)
	}
	return parts[2], parts[3], nil
}
