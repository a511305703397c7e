package mqtt

import (
	"github.com/sweeney/book-kiosk/internal/logic"
)

// FakePublisher records published telemetry for test assertions.
type FakePublisher struct {
	// PageChanges contains all page changes that were published.
	PageChanges []logic.PageChange

	// Faults contains all faults that were published.
	Faults []logic.Fault

	// Payloads contains the JSON payloads for page changes and faults, in order.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishPageChange and PublishFault.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishPageChange records the page change.
func (f *FakePublisher) PublishPageChange(change logic.PageChange) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPageChange(change)
	if err != nil {
		return err
	}
	f.PageChanges = append(f.PageChanges, change)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishFault records the fault.
func (f *FakePublisher) PublishFault(fault logic.Fault) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatFault(fault)
	if err != nil {
		return err
	}
	f.Faults = append(f.Faults, fault)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.PageChanges = nil
	f.Faults = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
