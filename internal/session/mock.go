package session

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time check that MockManager implements Manager.
var _ Manager = (*MockManager)(nil)

// MockManager is a scriptable in-memory Manager for testing. Tests start
// sessions as usual and inject events with Emit; the manager records every
// spawn spec, input, and stop for later inspection.
type MockManager struct {
	mu sync.Mutex

	// StartErr, when non-nil, is returned by every Start call.
	StartErr error

	// OnStart, when set, is called synchronously after each successful
	// Start with the new session ID and the spawn spec. Tests typically
	// use it to script the event sequence for the session.
	OnStart func(id string, spec SpawnSpec)

	// Specs records every SpawnSpec passed to Start, in order.
	Specs []SpawnSpec

	// Inputs records SendInput text per session ID.
	Inputs map[string][]string

	// Stopped records every session ID passed to Stop, in order,
	// including repeats.
	Stopped []string

	sessions map[string]*eventFeed
	counter  int
}

// NewMockManager creates an empty MockManager.
func NewMockManager() *MockManager {
	return &MockManager{
		Inputs:   make(map[string][]string),
		sessions: make(map[string]*eventFeed),
	}
}

// Start records the spec and creates a new mock session. Session IDs are
// deterministic ("mock-session-1", "mock-session-2", ...) so tests can
// assert against them.
func (m *MockManager) Start(_ context.Context, spec SpawnSpec) (string, error) {
	m.mu.Lock()
	if m.StartErr != nil {
		m.mu.Unlock()
		return "", m.StartErr
	}
	m.counter++
	id := fmt.Sprintf("mock-session-%d", m.counter)
	m.Specs = append(m.Specs, spec)
	feed := newEventFeed()
	feed.onIdle = func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}
	m.sessions[id] = feed
	onStart := m.OnStart
	m.mu.Unlock()

	if onStart != nil {
		onStart(id, spec)
	}
	return id, nil
}

// SendInput records the input. Unknown sessions are a no-op, matching the
// Manager contract.
func (m *MockManager) SendInput(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil
	}
	m.Inputs[id] = append(m.Inputs[id], text)
	return nil
}

// Stop records the stop call and, like the real manager killing a process,
// publishes a terminal status into the session's feed. The feed's
// terminal-once guard drops the event if the session already ended.
func (m *MockManager) Stop(id string) error {
	m.mu.Lock()
	m.Stopped = append(m.Stopped, id)
	feed := m.sessions[id]
	m.mu.Unlock()

	if feed != nil {
		feed.abandon()
		feed.publish(StatusEvent{ID: id, Status: StatusStopped})
	}
	return nil
}

// Subscribe attaches to the mock session's event feed. Unknown sessions
// yield an immediately-closed channel.
func (m *MockManager) Subscribe(id string) (<-chan Event, func()) {
	m.mu.Lock()
	feed := m.sessions[id]
	m.mu.Unlock()

	if feed == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return feed.subscribe()
}

// Emit publishes an event into the session's feed, exactly as the real
// manager would. Emitting to an unknown session is a no-op.
func (m *MockManager) Emit(id string, ev Event) {
	m.mu.Lock()
	feed := m.sessions[id]
	m.mu.Unlock()

	if feed != nil {
		feed.publish(ev)
	}
}

// StartCount returns the number of successful Start calls.
func (m *MockManager) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// StopCount returns the number of Stop calls for the given session ID.
func (m *MockManager) StopCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Stopped {
		if s == id {
			n++
		}
	}
	return n
}
