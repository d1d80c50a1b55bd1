package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// writeWait is the deadline for a single websocket write.
const writeWait = 10 * time.Second

// pingInterval keeps idle connections alive through proxies.
const pingInterval = 30 * time.Second

// WSRelay bridges the hub to websocket clients. Each connected client gets
// its own hub subscription and receives events as JSON text messages.
type WSRelay struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSRelay creates a relay over the given hub. checkOrigin decides which
// browser origins may connect; nil allows all (the server layer applies
// its own CORS policy). The logger may be nil.
func NewWSRelay(hub *Hub, checkOrigin func(r *http.Request) bool, logger *log.Logger) *WSRelay {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &WSRelay{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and streams hub events until the client
// disconnects.
func (w *WSRelay) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	events, unsubscribe := w.hub.Subscribe()
	defer unsubscribe()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice closes and to process control frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				w.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
