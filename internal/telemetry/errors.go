package telemetry

import "errors"

// Domain errors for the telemetry package. Check with errors.Is().
var (
	// ErrThresholdNotFound is returned when no threshold is configured
	// for a device/sensor pair.
	ErrThresholdNotFound = errors.New("telemetry: threshold not found")

	// ErrAlarmNotFound is returned when an alarm ID does not exist.
	ErrAlarmNotFound = errors.New("telemetry: alarm not found")

	// ErrInvalidThreshold is returned when threshold validation fails.
	ErrInvalidThreshold = errors.New("telemetry: invalid threshold")
)
