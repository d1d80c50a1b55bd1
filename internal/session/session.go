// Package session owns one-off AI-CLI agent sessions.
//
// A session is a single spawned instance of an agent CLI, identified by a
// session ID. It produces a stream of events: output fragments, a waiting
// signal when the process has produced a response and is idling for more
// input, and at most one terminal status (stopped or error). The turn
// runner consumes this stream to drive exactly one worker or reviewer turn.
package session

import (
	"context"
	"errors"
)

// ErrSpawn wraps failures to create the underlying agent process.
var ErrSpawn = errors.New("session spawn failed")

// Status describes the lifecycle state of a session process.
type Status string

const (
	// StatusRunning means the process is alive.
	StatusRunning Status = "running"
	// StatusStopped means the process exited cleanly.
	StatusStopped Status = "stopped"
	// StatusError means the process exited with a failure.
	StatusError Status = "error"
)

// Terminal returns true for stopped and error.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

// Event is the closed set of session events. The concrete types are
// MessageEvent, StatusEvent, and WaitingEvent; consumers dispatch with a
// type switch rather than on event-name strings.
type Event interface {
	// SessionID identifies the session that produced the event.
	SessionID() string

	// sealed prevents implementations outside this package.
	sealed()
}

// MessageEvent carries one streamed output fragment of agent-visible text.
type MessageEvent struct {
	ID    string
	Chunk string
}

// StatusEvent reports a session status change. A terminal status (stopped
// or error) is delivered at most once per session; Err is non-empty only
// when Status is StatusError.
type StatusEvent struct {
	ID     string
	Status Status
	Err    string
}

// WaitingEvent fires when the process has produced a complete response and
// is idling for more input without exiting. This is the non-terminating
// end-of-turn signal for interactive sessions, distinct from StatusStopped.
type WaitingEvent struct {
	ID      string
	Waiting bool
}

func (e MessageEvent) SessionID() string { return e.ID }
func (e StatusEvent) SessionID() string  { return e.ID }
func (e WaitingEvent) SessionID() string { return e.ID }

func (MessageEvent) sealed() {}
func (StatusEvent) sealed()  {}
func (WaitingEvent) sealed() {}

// SpawnSpec describes how to start one agent process.
type SpawnSpec struct {
	// Command is the CLI executable (e.g., "claude").
	Command string

	// Args are the full command-line arguments.
	Args []string

	// Dir is the working directory; empty means inherit.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// Input is written to the process stdin immediately after spawn.
	// Stdin is kept open afterwards for SendInput.
	Input string
}

// Manager is the contract the loop controller relies on, regardless of how
// sessions are actually hosted (subprocess, pty, remote RPC).
type Manager interface {
	// Start spawns a new session and returns its ID. Failures to create
	// the process wrap ErrSpawn.
	Start(ctx context.Context, spec SpawnSpec) (string, error)

	// SendInput writes text into a running session. Writing to a session
	// that has already terminated is a silent no-op.
	SendInput(id, text string) error

	// Stop terminates the session. It is idempotent and safe to call on
	// an already-terminated or unknown session.
	Stop(id string) error

	// Subscribe returns the event stream for a session together with an
	// unsubscribe function. Events recorded before subscription are
	// replayed first, so a subscriber attached after a fast process has
	// already exited still observes the terminal status.
	Subscribe(id string) (<-chan Event, func())
}
