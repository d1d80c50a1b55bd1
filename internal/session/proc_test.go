package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectUntilTerminal reads events from ch until a terminal status event
// arrives or the timeout expires.
func collectUntilTerminal(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			if st, ok := ev.(StatusEvent); ok && st.Status.Terminal() {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal status; got %d events", len(events))
		}
	}
}

func TestProcManagerStreamsAndStops(t *testing.T) {
	m := NewProcManager(nil)

	script := `printf '%s\n' '{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}'`
	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", script},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ch, cancel := m.Subscribe(id)
	defer cancel()

	events := collectUntilTerminal(t, ch)

	var chunks []string
	for _, ev := range events {
		if msg, ok := ev.(MessageEvent); ok {
			chunks = append(chunks, msg.Chunk)
		}
	}
	assert.Equal(t, []string{"done"}, chunks)

	last := events[len(events)-1].(StatusEvent)
	assert.Equal(t, StatusStopped, last.Status)
}

func TestProcManagerErrorExit(t *testing.T) {
	m := NewProcManager(nil)

	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})
	require.NoError(t, err)

	ch, cancel := m.Subscribe(id)
	defer cancel()

	events := collectUntilTerminal(t, ch)
	last := events[len(events)-1].(StatusEvent)
	assert.Equal(t, StatusError, last.Status)
	assert.Contains(t, last.Err, "boom")
}

func TestProcManagerSpawnError(t *testing.T) {
	m := NewProcManager(nil)

	_, err := m.Start(context.Background(), SpawnSpec{Command: "definitely-not-a-real-binary-4821"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)

	_, err = m.Start(context.Background(), SpawnSpec{})
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestProcManagerWaitingSignalLeavesProcessRunning(t *testing.T) {
	m := NewProcManager(nil)

	// Emit a result line, then idle on stdin: the session must publish a
	// waiting event without a terminal status.
	script := `printf '%s\n' '{"type":"result","num_turns":1}'; read line`
	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", script},
	})
	require.NoError(t, err)

	ch, cancel := m.Subscribe(id)
	defer cancel()

	select {
	case ev := <-ch:
		assert.Equal(t, WaitingEvent{ID: id, Waiting: true}, ev)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for waiting event")
	}

	// No terminal status yet; the process is idling on the read.
	select {
	case ev := <-ch:
		if st, ok := ev.(StatusEvent); ok {
			t.Fatalf("unexpected status event %+v", st)
		}
	case <-time.After(100 * time.Millisecond):
	}

	// Stop is idempotent and unblocks the session.
	require.NoError(t, m.Stop(id))
	require.NoError(t, m.Stop(id))

	events := collectUntilTerminal(t, ch)
	last := events[len(events)-1].(StatusEvent)
	assert.True(t, last.Status.Terminal())
}

func TestProcManagerSendInputAfterExitIsNoop(t *testing.T) {
	m := NewProcManager(nil)

	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "exit 0"},
	})
	require.NoError(t, err)

	ch, cancel := m.Subscribe(id)
	defer cancel()
	collectUntilTerminal(t, ch)

	assert.NoError(t, m.SendInput(id, "ignored"))
}

func TestProcManagerReapsFinishedSessions(t *testing.T) {
	m := NewProcManager(nil)

	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "exit 0"},
	})
	require.NoError(t, err)

	ch, cancel := m.Subscribe(id)
	collectUntilTerminal(t, ch)
	cancel()

	// Terminal status seen and the subscriber detached: the session entry
	// must be gone so a long-running server does not retain one backlog per
	// turn.
	m.mu.Lock()
	remaining := len(m.sessions)
	m.mu.Unlock()
	assert.Zero(t, remaining)

	// Reaped sessions behave like unknown ones.
	assert.NoError(t, m.Stop(id))
	assert.NoError(t, m.SendInput(id, "ignored"))
}

func TestProcManagerReapsKilledSessionAfterDetach(t *testing.T) {
	m := NewProcManager(nil)

	// The session idles after its result; the subscriber resolves on the
	// waiting signal and detaches before the process is killed.
	script := `printf '%s\n' '{"type":"result","num_turns":1}'; read line`
	id, err := m.Start(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", script},
	})
	require.NoError(t, err)

	ch, cancel := m.Subscribe(id)
	select {
	case ev := <-ch:
		require.Equal(t, WaitingEvent{ID: id, Waiting: true}, ev)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for waiting event")
	}
	cancel()

	require.NoError(t, m.Stop(id))
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.sessions) == 0
	}, 10*time.Second, 10*time.Millisecond, "killed session was not reaped")
}

func TestProcManagerUnknownSession(t *testing.T) {
	m := NewProcManager(nil)

	assert.NoError(t, m.Stop("nope"))
	assert.NoError(t, m.SendInput("nope", "text"))

	ch, cancel := m.Subscribe("nope")
	defer cancel()
	_, open := <-ch
	assert.False(t, open, "unknown session subscription must be closed")
}
