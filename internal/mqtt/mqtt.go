// Package mqtt publishes effect events and daemon lifecycle events to MQTT.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/helifx/internal/logic"
)

// Topic is the MQTT topic for effect events.
const Topic = "helifx/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "helifx/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an effect event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // if set, FormatSystemPayload returns it unchanged
	Retained   bool
}

// Payload is the effect event message.
type Payload struct {
	Effect EffectPayload `json:"helifx"`
}

// EffectPayload contains the event details.
type EffectPayload struct {
	Timestamp string     `json:"timestamp"`
	Event     string     `json:"event"`
	Engine    string     `json:"engine"`
	Gun       GunPayload `json:"gun"`
	HeaterOn  bool       `json:"heater_on"`
	Slave     string     `json:"slave,omitempty"`
}

// GunPayload is the gun's firing state at the time of an event.
type GunPayload struct {
	Firing bool   `json:"firing"`
	Rate   string `json:"rate,omitempty"`
	RPM    uint32 `json:"rpm"`
}

// FormatPayload creates the JSON payload for an effect event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Effect: EffectPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Engine:    string(event.Engine),
			Gun: GunPayload{
				Firing: event.Gun.IsFiring,
				Rate:   event.RateName,
				RPM:    event.Gun.CurrentRPM,
			},
			HeaterOn: event.HeaterOn,
			Slave:    event.SlaveName,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the message for simple system events (LWT, RECONNECTED)
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
