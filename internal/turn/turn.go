// Package turn drives exactly one worker or reviewer turn against an agent
// session, from subscription to its single terminating signal.
package turn

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/loopdeck/loopdeck/internal/session"
)

// Phase identifies which side of the loop a turn belongs to.
type Phase string

const (
	// PhaseWorker is the implementation turn.
	PhaseWorker Phase = "worker"
	// PhaseReviewer is the review turn.
	PhaseReviewer Phase = "reviewer"
)

// Invocation is the transient state of one turn. It is owned by the Runner
// for the duration of Run and must never be reused: event handling is bound
// to its specific session ID, and the resolved flag is single-fire.
type Invocation struct {
	SessionID string
	Phase     Phase

	output   strings.Builder
	resolved bool
}

// NewInvocation creates an invocation for the given session and phase.
func NewInvocation(sessionID string, phase Phase) *Invocation {
	return &Invocation{SessionID: sessionID, Phase: phase}
}

// Result is the structured outcome of one turn. Errors inside a turn are
// absorbed here, never raised to the caller as Go errors: a crash mid-turn
// is OK=false with Err set, and a turn that produced no output at all is
// still OK=true with an empty Output.
type Result struct {
	Output string
	OK     bool
	Err    string
}

// Runner runs single turns. It is stateless across turns; all per-turn
// state lives in the Invocation.
type Runner struct {
	mgr    session.Manager
	logger *log.Logger

	// OnChunk, when set, is called for every buffered output fragment.
	// The loop controller uses it to relay output to the transport layer.
	OnChunk func(phase Phase, chunk string)
}

// NewRunner creates a turn runner over the given session manager. The
// logger may be nil.
func NewRunner(mgr session.Manager, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{mgr: mgr, logger: logger}
}

// Run consumes the session's event stream until the first terminating
// signal and returns the turn result.
//
// Exactly one of three signals ends the turn, whichever arrives first:
//
//   - status stopped: natural process exit, resolves OK with the buffer
//   - status error: crash, resolves not-OK with the error
//   - waiting true: the session produced a response and is idling; resolves
//     OK with the buffer and intentionally leaves the process running so
//     the controller can send it more input or stop it explicitly
//
// The resolved flag on the Invocation guarantees single resolution: a
// second terminating event from the same session (e.g. waiting followed by
// a later stopped) is a silent no-op because Run has already returned and
// unsubscribed. Re-running a resolved invocation fails immediately.
func (r *Runner) Run(ctx context.Context, inv *Invocation) Result {
	if inv.resolved {
		return Result{OK: false, Err: "turn invocation already resolved"}
	}

	events, unsubscribe := r.mgr.Subscribe(inv.SessionID)
	defer unsubscribe()

	resolve := func(res Result) Result {
		inv.resolved = true
		r.logger.Debug("turn resolved",
			"session", inv.SessionID,
			"phase", inv.Phase,
			"ok", res.OK,
			"outputBytes", len(res.Output),
		)
		return res
	}

	for {
		select {
		case <-ctx.Done():
			return resolve(Result{
				Output: inv.output.String(),
				OK:     false,
				Err:    "turn cancelled: " + ctx.Err().Error(),
			})

		case ev, ok := <-events:
			if !ok {
				// Stream closed without a terminal signal (unknown session).
				return resolve(Result{
					Output: inv.output.String(),
					OK:     false,
					Err:    "session event stream closed",
				})
			}

			switch e := ev.(type) {
			case session.MessageEvent:
				inv.output.WriteString(e.Chunk)
				if r.OnChunk != nil {
					r.OnChunk(inv.Phase, e.Chunk)
				}

			case session.StatusEvent:
				switch e.Status {
				case session.StatusStopped:
					return resolve(Result{Output: inv.output.String(), OK: true})
				case session.StatusError:
					msg := e.Err
					if msg == "" {
						msg = "session terminated with error"
					}
					return resolve(Result{Output: inv.output.String(), OK: false, Err: msg})
				case session.StatusRunning:
					// Informational; not a terminating signal.
				}

			case session.WaitingEvent:
				if e.Waiting {
					// End of turn without process exit.
					return resolve(Result{Output: inv.output.String(), OK: true})
				}
			}
		}
	}
}
