package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceChannel publishes device commands over MQTT.
//
// It satisfies the action dispatcher's device channel contract: each
// command becomes a JSON message on hearth/command/{device}. Delivery to
// the device is fire-and-forget beyond the broker acknowledgement; the
// returned message carries the command ID for correlation in logs.
type DeviceChannel struct {
	client *Client
	qos    byte
	now    func() time.Time
}

// commandMessage is the wire format on hearth/command/{device}.
type commandMessage struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// NewDeviceChannel creates a DeviceChannel publishing at the given QoS.
func NewDeviceChannel(client *Client, qos byte) *DeviceChannel {
	return &DeviceChannel{
		client: client,
		qos:    qos,
		now:    time.Now,
	}
}

// Send publishes a command to a single device.
func (dc *DeviceChannel) Send(ctx context.Context, target, command string, params map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := commandMessage{
		ID:        uuid.New().String(),
		Command:   command,
		Params:    params,
		Timestamp: dc.now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding command: %w", err)
	}

	topic := Topics{}.Command(target)
	if err := dc.client.Publish(topic, payload, dc.qos, false); err != nil {
		return "", fmt.Errorf("publishing command to %s: %w", target, err)
	}

	return fmt.Sprintf("command %s sent to %s", msg.ID, target), nil
}
