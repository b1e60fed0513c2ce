package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT hierarchy.
//
// Devices publish sensor readings under hearth/telemetry and listen for
// commands under hearth/command. Core publishes events and its own health
// under hearth/event and hearth/system.
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("greenhouse-1", "temperature")
//	// Returns: "hearth/telemetry/greenhouse-1/temperature"
type Topics struct{}

// Telemetry returns the topic a device publishes a sensor reading on.
//
// Example: hearth/telemetry/greenhouse-1/temperature
func (Topics) Telemetry(deviceID, sensorType string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, deviceID, sensorType)
}

// Command returns the topic a device listens for commands on.
//
// Example: hearth/command/pump-3
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Event returns the topic for core events.
//
// Example: hearth/event/alarm.raised
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// SystemStatus returns the system status topic.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTelemetry returns a pattern matching every device sensor reading.
//
// Pattern: hearth/telemetry/+/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+/+", TopicPrefix)
}

// AllCommands returns a pattern matching all device commands.
//
// Pattern: hearth/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllEvents returns a pattern matching all core events.
//
// Pattern: hearth/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
