package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSRelayStreamsEvents(t *testing.T) {
	hub := NewHub()
	relay := NewWSRelay(hub, nil, nil)

	srv := httptest.NewServer(relay)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	// Wait for the server-side subscription to be registered before
	// publishing, since the hub drops events with no subscribers.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: EventComplete, TaskID: "lt-9", ProjectID: "p1", FinalStatus: "approved"})

	var got Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, EventComplete, got.Type)
	assert.Equal(t, "lt-9", got.TaskID)
	assert.Equal(t, "approved", got.FinalStatus)
}

func TestWSRelayUnsubscribesOnDisconnect(t *testing.T) {
	hub := NewHub()
	relay := NewWSRelay(hub, nil, nil)

	srv := httptest.NewServer(relay)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
