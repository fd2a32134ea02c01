package mqtt

import (
	"sync"

	"carwash-backend/internal/session"
)

// FakePublisher records published states for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// States contains all session states that were published.
	States []session.State

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the state.
func (f *FakePublisher) Publish(state session.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(state)
	if err != nil {
		return err
	}
	f.States = append(f.States, state)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SystemEvents = append(f.SystemEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Published returns a copy of the recorded states.
func (f *FakePublisher) Published() []session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.State(nil), f.States...)
}
