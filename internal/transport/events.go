// Package transport relays loop progress events to the panel UI.
//
// The loop controller publishes one event per state transition into a Hub;
// the hub fans events out to subscribers (the websocket endpoint, the CLI
// run command, tests). Event flow is strictly unidirectional: nothing in
// this package feeds back into the loop state machine.
package transport

import (
	"time"

	"github.com/loopdeck/loopdeck/internal/parse"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	// EventStatus reports a task status transition.
	EventStatus EventType = "status"
	// EventIteration reports the start of a new iteration.
	EventIteration EventType = "iteration"
	// EventOutput relays a fragment of buffered agent output.
	EventOutput EventType = "output"
	// EventWorkerComplete carries the parsed worker summary.
	EventWorkerComplete EventType = "worker_complete"
	// EventReviewerComplete carries the parsed reviewer feedback.
	EventReviewerComplete EventType = "reviewer_complete"
	// EventComplete reports the terminal outcome of a loop.
	EventComplete EventType = "complete"
	// EventError reports a terminal or notable failure.
	EventError EventType = "error"
	// EventWarning reports a non-fatal condition, e.g. a stale loop.
	EventWarning EventType = "warning"
)

// Event is one progress message for the panel. Type determines which of
// the optional fields are populated.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`

	Status      string          `json:"status,omitempty"`
	Iteration   int             `json:"iteration,omitempty"`
	Phase       string          `json:"phase,omitempty"`
	Content     string          `json:"content,omitempty"`
	Summary     *parse.Summary  `json:"summary,omitempty"`
	Feedback    *parse.Feedback `json:"feedback,omitempty"`
	FinalStatus string          `json:"final_status,omitempty"`
	Error       string          `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Publisher is the side of the hub the loop controller sees.
type Publisher interface {
	Publish(Event)
}
