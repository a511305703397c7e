// Package mqtt publishes kiosk telemetry with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// Topics for kiosk telemetry.
const (
	TopicEvents = "museum/book/kiosk/events"
	TopicFaults = "museum/book/kiosk/faults"
	TopicSystem = "museum/book/kiosk/system"
)

// Publisher publishes kiosk telemetry.
// Errors are reported to the caller but must never stop the kiosk.
type Publisher interface {
	// PublishPageChange sends a page selection change.
	PublishPageChange(change logic.PageChange) error

	// PublishFault sends a newly reported switch fault.
	PublishFault(fault logic.Fault) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// PageChangePayload is the MQTT payload for a page change.
type PageChangePayload struct {
	Page PageChangeInner `json:"page"`
}

// PageChangeInner contains the page change details.
type PageChangeInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// FormatPageChange creates the JSON payload for a page change.
func FormatPageChange(change logic.PageChange) ([]byte, error) {
	return json.Marshal(PageChangePayload{
		Page: PageChangeInner{
			Timestamp: change.Timestamp.UTC().Format(time.RFC3339),
			Event:     "PAGE_CHANGE",
			From:      change.From.String(),
			To:        change.To.String(),
		},
	})
}

// FaultPayload is the MQTT payload for a switch fault.
type FaultPayload struct {
	Fault FaultInner `json:"fault"`
}

// FaultInner contains the fault details.
type FaultInner struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Pages     []int  `json:"pages"`
	Signature string `json:"signature"`
	Since     string `json:"since,omitempty"`
	Message   string `json:"message"`
}

// FormatFault creates the JSON payload for a switch fault.
func FormatFault(fault logic.Fault) ([]byte, error) {
	inner := FaultInner{
		Timestamp: fault.Timestamp.UTC().Format(time.RFC3339),
		Kind:      string(fault.Kind),
		Pages:     fault.Pages,
		Signature: string(fault.Signature()),
		Message:   fault.Message(),
	}
	if inner.Pages == nil {
		inner.Pages = []int{}
	}
	if !fault.Since.IsZero() {
		inner.Since = fault.Since.UTC().Format(time.RFC3339)
	}
	return json.Marshal(FaultPayload{Fault: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
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

// WillPayload is the retained last-will message the broker publishes
// if the kiosk drops off without a clean shutdown.
func WillPayload(at time.Time) []byte {
	data, _ := FormatSystemPayload(SystemEvent{Timestamp: at, Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	return data
}

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishPageChange(logic.PageChange) error { return nil }
func (NopPublisher) PublishFault(logic.Fault) error           { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error          { return nil }
func (NopPublisher) Close() error                             { return nil }
func (NopPublisher) IsConnected() bool                        { return false }
