// Package websocket serves the event stream over WebSocket connections.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const (
	writeDeadline = 5 * time.Second
	pongDeadline  = 60 * time.Second
)

// NewUpgrader returns an upgrader using checkOrigin.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// Stream writes events as JSON text frames {"id","event","data"}.
type Stream struct {
	connection *websocket.Conn
	clock      clockwork.Clock
	closeOnce  sync.Once
}

func NewStream(connection *websocket.Conn, clock clockwork.Clock) *Stream {
	s := &Stream{connection: connection, clock: clock}
	s.configurePongHandler()
	return s
}

func (s *Stream) WriteEvent(ev domain.Event) error {
	s.updateWriteDeadline()
	return s.connection.WriteJSON(ev)
}

func (s *Stream) Ping() error {
	s.updateWriteDeadline()
	return s.connection.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame and closes the connection. WriteControl may run
// concurrently with a pending WriteEvent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed")
		_ = s.connection.WriteControl(websocket.CloseMessage, msg, s.clock.Now().Add(writeDeadline))
		err = s.connection.Close()
	})
	return err
}

// ReadLoop discards client frames and returns once the connection fails or
// the client goes away. Pongs keep the read deadline alive.
func (s *Stream) ReadLoop() {
	for {
		if _, _, err := s.connection.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) configurePongHandler() {
	s.updateReadDeadline()
	s.connection.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})
}

func (s *Stream) updateWriteDeadline() {
	_ = s.connection.SetWriteDeadline(s.clock.Now().Add(writeDeadline))
}

func (s *Stream) updateReadDeadline() {
	_ = s.connection.SetReadDeadline(s.clock.Now().Add(pongDeadline))
}
