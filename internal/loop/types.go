// Package loop implements the bounded Worker→Reviewer iteration core: the
// per-task state machine, the controller that drives turns against agent
// sessions, and the registry enforcing one active loop per project.
package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/loopdeck/loopdeck/internal/parse"
	"github.com/loopdeck/loopdeck/internal/turn"
)

// Caller-facing validation errors. These are returned synchronously from
// controller entry points and never leave a task partially mutated.
var (
	// ErrAlreadyRunning means the project already has an active loop.
	ErrAlreadyRunning = errors.New("a loop is already running for this project")
	// ErrNotFound means the task ID is unknown.
	ErrNotFound = errors.New("loop task not found")
	// ErrInvalidConfig means the loop configuration failed validation.
	ErrInvalidConfig = errors.New("invalid loop config")
	// ErrInvalidTransition means the operation does not apply to the
	// task's current status (e.g. pausing a completed loop).
	ErrInvalidTransition = errors.New("operation not valid in current status")
)

// Status is the lifecycle state of a loop task.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusWorkerRunning   Status = "worker_running"
	StatusReviewerRunning Status = "reviewer_running"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal returns true for completed and failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active returns true while the task still holds the project's
// single-flight slot.
func (s Status) Active() bool {
	return s == StatusWorkerRunning || s == StatusReviewerRunning || s == StatusPaused
}

// FinalStatus classifies a finished loop. It is empty exactly until the
// task reaches a terminal status.
type FinalStatus string

const (
	// FinalApproved means the reviewer accepted the work.
	FinalApproved FinalStatus = "approved"
	// FinalMaxTurnsReached means the iteration bound was exhausted. This
	// is a successful, bounded exhaustion, not an error.
	FinalMaxTurnsReached FinalStatus = "max_turns_reached"
	// FinalCriticalFailure means a crash, a rejection, or an unparseable
	// reviewer response ended the loop.
	FinalCriticalFailure FinalStatus = "critical_failure"
)

// Config is the per-task loop configuration supplied at start.
type Config struct {
	MaxTurns        int    `json:"max_turns"`
	WorkerModel     string `json:"worker_model"`
	ReviewerModel   string `json:"reviewer_model"`
	TaskDescription string `json:"task_description"`
}

// Validate checks the configuration. All findings are reported as a single
// wrapped ErrInvalidConfig.
func (c Config) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("%w: max_turns must be at least 1, got %d", ErrInvalidConfig, c.MaxTurns)
	}
	if c.TaskDescription == "" {
		return fmt.Errorf("%w: task description must not be empty", ErrInvalidConfig)
	}
	return nil
}

// Hash returns a stable fingerprint of the configuration, used to detect
// config drift across pause/resume in logs and persisted records.
func (c Config) Hash() uint64 {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		// Hashing a plain struct cannot fail in practice.
		return 0
	}
	return h
}

// IterationRecord is the immutable outcome of one iteration. A record is
// appended when the worker phase produces a summary; ReviewerFeedback is
// filled in when the review phase completes and stays nil if the iteration
// ended before review.
type IterationRecord struct {
	Iteration        int             `json:"iteration"`
	WorkerSummary    parse.Summary   `json:"worker_summary"`
	ReviewerFeedback *parse.Feedback `json:"reviewer_feedback,omitempty"`
}

// Task is one loop task. It is owned by the registry for its lifetime; the
// controller mutates it only under the per-task lock.
type Task struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`

	Status           Status            `json:"status"`
	CurrentIteration int               `json:"current_iteration"`
	Config           Config            `json:"config"`
	ConfigHash       uint64            `json:"config_hash"`
	FinalStatus      FinalStatus       `json:"final_status,omitempty"`
	History          []IterationRecord `json:"history"`
	Error            string            `json:"error,omitempty"`

	// PausedPhase remembers which phase to re-enter on resume. Set only
	// while Status is paused.
	PausedPhase turn.Phase `json:"paused_phase,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the controller.
func (t *Task) Clone() *Task {
	cp := *t
	cp.History = make([]IterationRecord, len(t.History))
	for i, rec := range t.History {
		cp.History[i] = rec
		if rec.ReviewerFeedback != nil {
			fb := *rec.ReviewerFeedback
			cp.History[i].ReviewerFeedback = &fb
		}
	}
	return &cp
}

// Store is the persisted history backing the registry. Implementations
// live outside this package (see internal/store).
type Store interface {
	Save(task *Task) error
	Load(projectID, taskID string) (*Task, error)
	List(projectID string) ([]*Task, error)
	Remove(projectID, taskID string) error
}
