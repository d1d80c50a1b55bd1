package loop

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/parse"
	"github.com/loopdeck/loopdeck/internal/session"
	"github.com/loopdeck/loopdeck/internal/transport"
	"github.com/loopdeck/loopdeck/internal/turn"
)

// staleThreshold is the number of consecutive identical worker summaries
// after which a stale-loop warning is published.
const staleThreshold = 3

// Controller drives loop tasks through the Worker→Reviewer state machine.
// Each started task runs in its own goroutine; Pause, Resume, Stop, and
// Delete interact with it through a per-task lock, so concurrent calls on
// the same task are serialized and every state update lands before its
// side effects (session kills, event publishes).
type Controller struct {
	cfg      *config.Config
	registry *Registry
	sessions session.Manager
	hub      transport.Publisher
	logger   *log.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeLoop // taskID -> runtime
}

// activeLoop is the runtime companion of a Task while its goroutine is
// alive. All fields are guarded by mu.
type activeLoop struct {
	mu   sync.Mutex
	task *Task

	sessionID string // session of the in-flight turn, "" between turns
	cancel    context.CancelFunc

	pauseRequested bool
	stopRequested  bool
	finished       bool
	resumeCh       chan struct{} // non-nil while paused
	wakePhase      turn.Phase    // phase to re-enter after resume

	announcedIteration int
	staleHash          uint64
	staleRun           int
}

// NewController wires the loop controller. The logger may be nil.
func NewController(cfg *config.Config, registry *Registry, sessions session.Manager, hub transport.Publisher, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		hub:      hub,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		active:   make(map[string]*activeLoop),
	}
}

// Shutdown cancels all in-flight turns and waits for task goroutines to
// drain. Task state stays persisted as-is for recovery on next start.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// Start validates the config, claims the project's single-flight slot, and
// launches the loop goroutine. It returns the new task ID. A second start
// for the same project while a loop is active fails with ErrAlreadyRunning
// and leaves no trace.
func (c *Controller) Start(projectID string, loopCfg Config) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("%w: project id must not be empty", ErrInvalidConfig)
	}
	if loopCfg.MaxTurns == 0 {
		loopCfg.MaxTurns = c.cfg.Loop.MaxTurns
	}
	if err := loopCfg.Validate(); err != nil {
		return "", err
	}
	if _, err := c.agentFor(turn.PhaseWorker); err != nil {
		return "", err
	}
	if _, err := c.agentFor(turn.PhaseReviewer); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	task := &Task{
		TaskID:     uuid.NewString(),
		ProjectID:  projectID,
		Status:     StatusIdle,
		Config:     loopCfg,
		ConfigHash: loopCfg.Hash(),
		History:    []IterationRecord{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Claim before any persistence or spawning: the slot check and the
	// insert are one atomic step inside the registry.
	if err := c.registry.Claim(task); err != nil {
		return "", err
	}

	al := &activeLoop{task: task}
	c.mu.Lock()
	c.active[task.TaskID] = al
	c.mu.Unlock()

	if err := c.registry.Save(task); err != nil {
		c.detach(al)
		return "", fmt.Errorf("persisting new task: %w", err)
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)
	al.cancel = cancel

	c.logger.Info("loop started",
		"task", task.TaskID,
		"project", projectID,
		"maxTurns", loopCfg.MaxTurns,
		"configHash", fmt.Sprintf("%016x", task.ConfigHash),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.run(runCtx, al)
	}()

	return task.TaskID, nil
}

// Pause stops the current session without discarding task state. The loop
// goroutine parks and the interrupted phase is re-entered on resume with a
// fresh turn. Pausing an already-paused task is a no-op.
func (c *Controller) Pause(projectID, taskID string) error {
	al, err := c.runtime(projectID, taskID)
	if err != nil {
		return err
	}
	if al == nil {
		return fmt.Errorf("%w: task is not running", ErrInvalidTransition)
	}

	al.mu.Lock()
	if al.finished || al.stopRequested {
		al.mu.Unlock()
		return fmt.Errorf("%w: task is not running", ErrInvalidTransition)
	}
	if al.pauseRequested {
		al.mu.Unlock()
		return nil
	}
	al.pauseRequested = true
	al.resumeCh = make(chan struct{})
	al.task.PausedPhase = phaseOf(al.task.Status)
	c.transitionLocked(al, StatusPaused)
	sessionID := al.sessionID
	al.mu.Unlock()

	if sessionID != "" {
		if err := c.sessions.Stop(sessionID); err != nil {
			c.logger.Warn("stopping session on pause", "session", sessionID, "err", err)
		}
	}
	return nil
}

// Resume restarts a paused loop at the phase it was paused in, preserving
// iteration count and history. Resuming a running task is a no-op.
func (c *Controller) Resume(projectID, taskID string) error {
	al, err := c.runtime(projectID, taskID)
	if err != nil {
		return err
	}
	if al == nil {
		return fmt.Errorf("%w: task is not active", ErrInvalidTransition)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if al.finished || al.stopRequested {
		return fmt.Errorf("%w: task is not active", ErrInvalidTransition)
	}
	if !al.pauseRequested {
		return nil
	}
	al.pauseRequested = false
	al.wakePhase = al.task.PausedPhase
	al.task.PausedPhase = ""
	c.transitionLocked(al, runningStatus(al.wakePhase))
	close(al.resumeCh)
	al.resumeCh = nil
	return nil
}

// Stop terminates the loop: the task goes to failed with final status
// critical_failure, the active session is killed, and no further progress
// events are published. Stopping a finished task is a no-op.
func (c *Controller) Stop(projectID, taskID string) error {
	al, err := c.runtime(projectID, taskID)
	if err != nil {
		return err
	}
	if al == nil {
		// No runtime: either already terminal, or a record orphaned by a
		// crash. Terminal is idempotent; orphans are settled in place.
		task, lerr := c.registry.Lookup(projectID, taskID)
		if lerr != nil {
			return lerr
		}
		if task.Status.Terminal() {
			return nil
		}
		task.Status = StatusFailed
		task.FinalStatus = FinalCriticalFailure
		task.Error = "stopped by user"
		task.PausedPhase = ""
		task.UpdatedAt = time.Now().UTC()
		return c.registry.Save(task)
	}

	al.mu.Lock()
	if al.finished {
		al.mu.Unlock()
		return nil
	}
	al.stopRequested = true
	c.finishLocked(al, FinalCriticalFailure, "stopped by user")
	if al.resumeCh != nil {
		close(al.resumeCh)
		al.resumeCh = nil
	}
	sessionID := al.sessionID
	cancelTurn := al.cancel
	al.mu.Unlock()

	if sessionID != "" {
		if err := c.sessions.Stop(sessionID); err != nil {
			c.logger.Warn("stopping session on stop", "session", sessionID, "err", err)
		}
	}
	if cancelTurn != nil {
		cancelTurn()
	}
	return nil
}

// Delete removes the task record and its history, stopping the loop first
// if it is still active.
func (c *Controller) Delete(projectID, taskID string) error {
	if err := c.Stop(projectID, taskID); err != nil {
		return err
	}
	return c.registry.Remove(projectID, taskID)
}

// Status returns a snapshot of the task: live state for active loops,
// persisted state otherwise.
func (c *Controller) Status(projectID, taskID string) (*Task, error) {
	c.mu.Lock()
	al := c.active[taskID]
	c.mu.Unlock()
	if al != nil {
		al.mu.Lock()
		defer al.mu.Unlock()
		if al.task.ProjectID == projectID {
			return al.task.Clone(), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	task, err := c.registry.Lookup(projectID, taskID)
	if err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// History lists all tasks ever run for the project, newest state included
// for the active one.
func (c *Controller) History(projectID string) ([]*Task, error) {
	tasks, err := c.registry.List(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		c.mu.Lock()
		al := c.active[t.TaskID]
		c.mu.Unlock()
		if al != nil {
			al.mu.Lock()
			out = append(out, al.task.Clone())
			al.mu.Unlock()
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

// run is the loop goroutine: alternating worker and reviewer turns until a
// terminal outcome or an interrupt.
func (c *Controller) run(ctx context.Context, al *activeLoop) {
	defer c.detach(al)

	iteration := 1
	phase := turn.PhaseWorker
	feedback := ""

	for {
		if !c.awaitReady(ctx, al, &phase) {
			return
		}

		switch phase {
		case turn.PhaseWorker:
			prompt, err := WorkerPrompt(al.task.Config, iteration, feedback)
			if err != nil {
				c.fail(al, err.Error())
				return
			}
			c.enterPhase(al, turn.PhaseWorker, iteration)

			res, interrupted := c.runTurn(ctx, al, turn.PhaseWorker, iteration, prompt)
			if interrupted {
				continue
			}
			if !res.OK {
				c.fail(al, "worker turn failed: "+res.Err)
				return
			}

			summary, perr := parse.WorkerOutput(res.Output)
			if perr != nil {
				c.fail(al, "worker summary could not be parsed: "+perr.Error())
				return
			}
			summary.FilesModified = parse.FilterFiles(summary.FilesModified, c.cfg.Loop.AllowedPaths)
			c.recordWorker(al, iteration, summary)
			phase = turn.PhaseReviewer

		case turn.PhaseReviewer:
			record := al.lastRecord()
			prompt, err := ReviewerPrompt(al.task.Config, iteration, record.WorkerSummary)
			if err != nil {
				c.fail(al, err.Error())
				return
			}
			c.enterPhase(al, turn.PhaseReviewer, iteration)

			res, interrupted := c.runTurn(ctx, al, turn.PhaseReviewer, iteration, prompt)
			if interrupted {
				continue
			}
			if !res.OK {
				c.fail(al, "reviewer turn failed: "+res.Err)
				return
			}

			fb, perr := parse.ReviewerOutput(res.Output)
			if perr != nil {
				c.fail(al, "reviewer decision could not be parsed: "+perr.Error())
				return
			}
			c.recordReviewer(al, iteration, fb)

			switch fb.Decision {
			case parse.DecisionApprove:
				c.finish(al, FinalApproved, "")
				return
			case parse.DecisionReject:
				c.finish(al, FinalCriticalFailure, "reviewer rejected the work: "+fb.Feedback)
				return
			case parse.DecisionRequestChanges:
				if iteration >= al.task.Config.MaxTurns {
					// Bounded exhaustion is a successful outcome.
					c.finish(al, FinalMaxTurnsReached, "")
					return
				}
				feedback = fb.Feedback
				iteration++
				phase = turn.PhaseWorker
			}
		}
	}
}

// awaitReady parks while the task is paused and reports whether the loop
// should proceed. On resume the phase pointer is rewound to the phase that
// was interrupted.
func (c *Controller) awaitReady(ctx context.Context, al *activeLoop, phase *turn.Phase) bool {
	for {
		al.mu.Lock()
		if al.finished || al.stopRequested {
			al.mu.Unlock()
			return false
		}
		if !al.pauseRequested {
			if al.wakePhase != "" {
				*phase = al.wakePhase
				al.wakePhase = ""
			}
			al.mu.Unlock()
			return true
		}
		ch := al.resumeCh
		al.mu.Unlock()

		select {
		case <-ctx.Done():
			// Shutdown while paused: leave the persisted paused state
			// untouched so the task can be settled or resumed later.
			return false
		case <-ch:
		}
	}
}

// runTurn spawns a fresh session for the phase, drives it to resolution,
// and always stops the process afterwards (a waiting session is left alive
// by the turn runner, not by the controller). The second return value is
// true when a pause or stop interrupted the turn; the result is then
// meaningless and must not be interpreted as a failure.
func (c *Controller) runTurn(ctx context.Context, al *activeLoop, phase turn.Phase, iteration int, prompt string) (turn.Result, bool) {
	if c.interrupted(al) {
		return turn.Result{}, true
	}
	agent, err := c.agentFor(phase)
	if err != nil {
		return turn.Result{Err: err.Error()}, false
	}

	spec := buildSpawnSpec(agent, c.modelFor(al.task.Config, phase), prompt, "")
	id, err := c.sessions.Start(ctx, spec)
	if err != nil {
		return turn.Result{Err: fmt.Sprintf("spawning %s session: %v", phase, err)}, c.interrupted(al)
	}

	al.mu.Lock()
	al.sessionID = id
	interrupted := al.pauseRequested || al.stopRequested || al.finished
	al.mu.Unlock()
	if interrupted {
		// A pause or stop raced the spawn and read an empty session ID, so
		// its kill missed the process. Kill it here instead.
		if err := c.sessions.Stop(id); err != nil {
			c.logger.Warn("stopping session after interrupted spawn", "session", id, "err", err)
		}
		al.mu.Lock()
		al.sessionID = ""
		al.mu.Unlock()
		return turn.Result{}, true
	}

	runner := turn.NewRunner(c.sessions, c.logger)
	runner.OnChunk = func(p turn.Phase, chunk string) {
		c.publish(al, transport.Event{
			Type:      transport.EventOutput,
			Phase:     string(p),
			Iteration: iteration,
			Content:   chunk,
		})
	}

	res := runner.Run(ctx, turn.NewInvocation(id, phase))

	if err := c.sessions.Stop(id); err != nil {
		c.logger.Warn("stopping session after turn", "session", id, "err", err)
	}
	al.mu.Lock()
	al.sessionID = ""
	interrupted = al.pauseRequested || al.stopRequested || al.finished
	al.mu.Unlock()
	return res, interrupted
}

// enterPhase transitions the task into the phase's running status and, the
// first time an iteration is entered, announces it.
func (c *Controller) enterPhase(al *activeLoop, phase turn.Phase, iteration int) {
	al.mu.Lock()
	defer al.mu.Unlock()
	// A pause or stop that landed between turns wins; the loop parks at
	// its next awaitReady check instead of entering the phase.
	if al.finished || al.stopRequested || al.pauseRequested {
		return
	}
	if phase == turn.PhaseWorker && iteration > al.announcedIteration {
		al.announcedIteration = iteration
		al.task.CurrentIteration = iteration
		c.publishLocked(al, transport.Event{
			Type:      transport.EventIteration,
			Iteration: iteration,
		})
	}
	c.transitionLocked(al, runningStatus(phase))
}

// recordWorker appends the iteration record, publishes the summary, and
// runs stale-loop detection over consecutive summaries.
func (c *Controller) recordWorker(al *activeLoop, iteration int, summary parse.Summary) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.finished {
		return
	}
	al.task.History = append(al.task.History, IterationRecord{
		Iteration:     iteration,
		WorkerSummary: summary,
	})
	al.task.UpdatedAt = time.Now().UTC()
	c.saveLocked(al)
	c.publishLocked(al, transport.Event{
		Type:      transport.EventWorkerComplete,
		Iteration: iteration,
		Summary:   &summary,
	})

	h := summaryHash(summary)
	if h == al.staleHash {
		al.staleRun++
	} else {
		al.staleHash = h
		al.staleRun = 1
	}
	if al.staleRun == staleThreshold {
		c.logger.Warn("loop looks stale", "task", al.task.TaskID, "iterations", al.staleRun)
		c.publishLocked(al, transport.Event{
			Type:      transport.EventWarning,
			Iteration: iteration,
			Message:   fmt.Sprintf("worker summary unchanged for %d consecutive iterations; the loop may be stuck", staleThreshold),
		})
	}
}

// recordReviewer fills the reviewer half of the current iteration record.
func (c *Controller) recordReviewer(al *activeLoop, iteration int, fb parse.Feedback) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.finished {
		return
	}
	for i := len(al.task.History) - 1; i >= 0; i-- {
		if al.task.History[i].Iteration == iteration {
			f := fb
			al.task.History[i].ReviewerFeedback = &f
			break
		}
	}
	al.task.UpdatedAt = time.Now().UTC()
	c.saveLocked(al)
	c.publishLocked(al, transport.Event{
		Type:      transport.EventReviewerComplete,
		Iteration: iteration,
		Feedback:  &fb,
	})
}

// finish moves the task to its terminal status. Empty errMsg means success
// (approved or max turns reached); otherwise the loop failed.
func (c *Controller) finish(al *activeLoop, final FinalStatus, errMsg string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.finished {
		return
	}
	c.finishLocked(al, final, errMsg)
}

func (c *Controller) fail(al *activeLoop, errMsg string) {
	c.finish(al, FinalCriticalFailure, errMsg)
}

// finishLocked performs the terminal transition under al.mu. After it
// returns, every publish path is a no-op: the finished flag is the
// guarantee that no event follows the complete event.
func (c *Controller) finishLocked(al *activeLoop, final FinalStatus, errMsg string) {
	status := StatusCompleted
	if final == FinalCriticalFailure {
		status = StatusFailed
	}
	al.task.Status = status
	al.task.FinalStatus = final
	al.task.Error = errMsg
	al.task.PausedPhase = ""
	al.task.UpdatedAt = time.Now().UTC()
	c.saveLocked(al)

	c.logger.Info("loop finished",
		"task", al.task.TaskID,
		"project", al.task.ProjectID,
		"status", status,
		"finalStatus", final,
		"iterations", len(al.task.History),
	)

	c.publishLocked(al, transport.Event{Type: transport.EventStatus, Status: string(status)})
	if errMsg != "" {
		c.publishLocked(al, transport.Event{Type: transport.EventError, Error: errMsg})
	}
	c.publishLocked(al, transport.Event{
		Type:        transport.EventComplete,
		FinalStatus: string(final),
		Error:       errMsg,
	})
	al.finished = true

	// The terminal transition frees the project slot: a Start issued right
	// after Stop (or completion) must not see the finished task as active.
	// The task stays resolvable by ID until the goroutine detaches.
	c.registry.ReleaseSlot(al.task)
}

// transitionLocked sets a non-terminal status and publishes it. Setting the
// status the task already has publishes nothing.
func (c *Controller) transitionLocked(al *activeLoop, status Status) {
	if al.task.Status == status {
		return
	}
	al.task.Status = status
	al.task.UpdatedAt = time.Now().UTC()
	c.saveLocked(al)
	c.publishLocked(al, transport.Event{Type: transport.EventStatus, Status: string(status)})
}

func (c *Controller) saveLocked(al *activeLoop) {
	if err := c.registry.Save(al.task); err != nil {
		c.logger.Error("persisting task state", "task", al.task.TaskID, "err", err)
	}
}

// publish stamps and publishes an event unless the task already finished.
func (c *Controller) publish(al *activeLoop, ev transport.Event) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.finished {
		return
	}
	c.publishLocked(al, ev)
}

func (c *Controller) publishLocked(al *activeLoop, ev transport.Event) {
	ev.TaskID = al.task.TaskID
	ev.ProjectID = al.task.ProjectID
	ev.Timestamp = time.Now().UTC()
	c.hub.Publish(ev)
}

// detach releases the project slot and drops the runtime entry.
func (c *Controller) detach(al *activeLoop) {
	c.registry.Release(al.task)
	c.mu.Lock()
	delete(c.active, al.task.TaskID)
	c.mu.Unlock()
}

// runtime resolves the live runtime for a task. A nil runtime with nil
// error means the task exists but is not active.
func (c *Controller) runtime(projectID, taskID string) (*activeLoop, error) {
	c.mu.Lock()
	al := c.active[taskID]
	c.mu.Unlock()
	if al != nil {
		if al.task.ProjectID != projectID {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return al, nil
	}
	if _, err := c.registry.Lookup(projectID, taskID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Controller) interrupted(al *activeLoop) bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.pauseRequested || al.stopRequested || al.finished
}

func (c *Controller) agentFor(phase turn.Phase) (config.Agent, error) {
	name := c.cfg.Loop.WorkerAgent
	if phase == turn.PhaseReviewer {
		name = c.cfg.Loop.ReviewerAgent
	}
	agent, ok := c.cfg.Agents[name]
	if !ok {
		return config.Agent{}, fmt.Errorf("%w: agent %q is not configured", ErrInvalidConfig, name)
	}
	return agent, nil
}

func (c *Controller) modelFor(cfg Config, phase turn.Phase) string {
	if phase == turn.PhaseReviewer {
		return cfg.ReviewerModel
	}
	return cfg.WorkerModel
}

// lastRecord returns the most recent iteration record.
func (al *activeLoop) lastRecord() IterationRecord {
	al.mu.Lock()
	defer al.mu.Unlock()
	if len(al.task.History) == 0 {
		return IterationRecord{}
	}
	return al.task.History[len(al.task.History)-1]
}

func phaseOf(s Status) turn.Phase {
	if s == StatusReviewerRunning {
		return turn.PhaseReviewer
	}
	return turn.PhaseWorker
}

func runningStatus(p turn.Phase) Status {
	if p == turn.PhaseReviewer {
		return StatusReviewerRunning
	}
	return StatusWorkerRunning
}

func summaryHash(s parse.Summary) uint64 {
	var b strings.Builder
	b.WriteString(s.Note)
	for _, f := range s.FilesModified {
		b.WriteByte(0)
		b.WriteString(f)
	}
	return xxhash.Sum64String(b.String())
}
