// Package mqtt mirrors session broadcasts to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"carwash-backend/internal/session"
)

// Publisher publishes bay state to MQTT.
type Publisher interface {
	// Publish sends a session state for its bay. Failures are returned, never fatal.
	Publish(state session.State) error

	// PublishSystem sends a service lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent is a lifecycle event of the backend itself.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // "STARTUP" or "SHUTDOWN"
	Reason    string
}

// StateTopic returns the topic of a bay's session state.
func StateTopic(prefix string, bayID int64) string {
	return fmt.Sprintf("%s/%d/state", strings.TrimSuffix(prefix, "/"), bayID)
}

// SystemTopic returns the topic of lifecycle events.
func SystemTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/system"
}

// FormatPayload encodes a session state the same way websocket clients see it.
func FormatPayload(state session.State) ([]byte, error) {
	return json.Marshal(state)
}

type systemPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes a lifecycle event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(systemPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	})
}
