package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Compile-time check that ProcManager implements Manager.
var _ Manager = (*ProcManager)(nil)

// maxBacklog bounds the number of events retained for replay to late
// subscribers. Terminal status events are never evicted past this bound
// in practice because a session stops producing events once terminal.
const maxBacklog = 1024

// subBuffer is the per-subscriber channel capacity. Sends are non-blocking;
// a slow subscriber drops events rather than stalling the session pump.
const subBuffer = 256

// maxStderrTail is the number of trailing stderr bytes included in error
// status events.
const maxStderrTail = 2048

// ProcManager hosts agent sessions as local subprocesses. Each session's
// stdout is decoded as stream-json: assistant text becomes message events,
// a result line while the process is still alive becomes the waiting
// signal, and process exit becomes the terminal status.
type ProcManager struct {
	mu       sync.Mutex
	sessions map[string]*procSession
	logger   *log.Logger
}

// NewProcManager creates a subprocess-backed session manager. The logger
// may be nil, in which case debug output is discarded.
func NewProcManager(logger *log.Logger) *ProcManager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ProcManager{
		sessions: make(map[string]*procSession),
		logger:   logger,
	}
}

// procSession holds one running subprocess and its event feed.
type procSession struct {
	id    string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	feed  *eventFeed

	killOnce sync.Once
}

// Start spawns the agent process described by spec and begins pumping its
// output as events. The returned ID identifies the session for the other
// Manager calls. Spawn failures wrap ErrSpawn.
func (m *ProcManager) Start(ctx context.Context, spec SpawnSpec) (string, error) {
	if spec.Command == "" {
		return "", fmt.Errorf("%w: empty command", ErrSpawn)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	setProcGroup(cmd)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("%w: creating stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: creating stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("%w: creating stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: starting %s: %v", ErrSpawn, spec.Command, err)
	}

	sess := &procSession{
		id:    uuid.NewString(),
		cmd:   cmd,
		stdin: stdin,
		feed:  newEventFeed(),
	}
	sess.feed.onIdle = func() { m.remove(sess.id) }

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	m.logger.Debug("session started",
		"session", sess.id,
		"command", spec.Command,
		"pid", cmd.Process.Pid,
	)

	if spec.Input != "" {
		if _, err := io.WriteString(stdin, spec.Input+"\n"); err != nil {
			m.logger.Debug("writing initial input failed", "session", sess.id, "error", err)
		}
	}

	go m.pump(sess, stdout, stderr)

	return sess.id, nil
}

// pump reads the session's stdout until EOF, translating stream lines into
// events, then waits for the process and publishes the terminal status.
func (m *ProcManager) pump(sess *procSession, stdout, stderr io.Reader) {
	var stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, io.LimitReader(stderr, maxStderrTail))
		// Drain the rest so the process is never blocked on stderr.
		_, _ = io.Copy(io.Discard, stderr)
	}()

	decoder := newStreamDecoder(stdout)
	for {
		line, err := decoder.next()
		if err != nil {
			// io.EOF or decode error: stop reading. A decode error means
			// the remaining output is not stream-json; the process exit
			// below still produces the terminal status.
			break
		}
		switch line.Type {
		case lineAssistant:
			if text := line.textContent(); text != "" {
				sess.feed.publish(MessageEvent{ID: sess.id, Chunk: text})
			}
		case lineResult:
			// The process produced a complete response and is idling for
			// more input. Not a terminal signal.
			sess.feed.publish(WaitingEvent{ID: sess.id, Waiting: true})
		case lineSystem, lineUser:
			// Control traffic; not agent-visible text.
		}
	}

	wg.Wait()
	waitErr := sess.cmd.Wait()

	if waitErr != nil {
		msg := waitErr.Error()
		if tail := strings.TrimSpace(stderrBuf.String()); tail != "" {
			msg = msg + ": " + tail
		}
		m.logger.Debug("session exited with error", "session", sess.id, "error", msg)
		sess.feed.publish(StatusEvent{ID: sess.id, Status: StatusError, Err: msg})
	} else {
		m.logger.Debug("session exited", "session", sess.id)
		sess.feed.publish(StatusEvent{ID: sess.id, Status: StatusStopped})
	}
}

// SendInput writes a line of text to the session's stdin. Unknown and
// already-terminated sessions are silent no-ops per the Manager contract.
func (m *ProcManager) SendInput(id, text string) error {
	sess := m.get(id)
	if sess == nil || sess.feed.isTerminal() {
		return nil
	}
	if _, err := io.WriteString(sess.stdin, text+"\n"); err != nil {
		return fmt.Errorf("sending input to session %s: %w", id, err)
	}
	return nil
}

// Stop kills the session process. Idempotent: stopping an unknown or
// already-terminated session returns nil.
func (m *ProcManager) Stop(id string) error {
	sess := m.get(id)
	if sess == nil {
		return nil
	}
	sess.killOnce.Do(func() {
		_ = sess.stdin.Close()
		killProcess(sess.cmd)
	})
	// A stopped session has no future subscribers; this lets the terminal
	// status from the kill reap it even if nobody ever attached.
	sess.feed.abandon()
	return nil
}

// Subscribe attaches a new event channel to the session. Previously
// published events are replayed in order before live delivery begins.
// Subscribing to an unknown session yields an immediately-closed channel.
func (m *ProcManager) Subscribe(id string) (<-chan Event, func()) {
	sess := m.get(id)
	if sess == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return sess.feed.subscribe()
}

// get returns the session with the given ID, or nil.
func (m *ProcManager) get(id string) *procSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// remove reaps a finished session once its feed goes idle. The pump
// goroutine keeps its own reference, so removal only stops new lookups.
func (m *ProcManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
