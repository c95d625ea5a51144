package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const sseWriteDeadline = 5 * time.Second

var errStreamClosed = errors.New("stream closed")

// sseStream writes events in text/event-stream framing. Headers are sent
// with the first write or by start, whichever happens first.
type sseStream struct {
	response   *echo.Response
	controller *http.ResponseController
	clock      clockwork.Clock
	startOnce  sync.Once
	closed     atomic.Bool
}

func newSSEStream(response *echo.Response, clock clockwork.Clock) *sseStream {
	return &sseStream{
		response:   response,
		controller: http.NewResponseController(response.Writer),
		clock:      clock,
	}
}

func (s *sseStream) start() {
	s.startOnce.Do(func() {
		h := s.response.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.response.WriteHeader(http.StatusOK)
		s.response.Flush()
	})
}

func (s *sseStream) WriteEvent(ev domain.Event) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %s\nevent: %s\n", ev.ID, ev.Kind)
	for _, line := range bytes.Split(ev.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

func (s *sseStream) Ping() error {
	return s.write([]byte(": ping\n\n"))
}

// Close only marks the stream; the handler owns the underlying response and
// returns once the client's writer has stopped.
func (s *sseStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *sseStream) write(frame []byte) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	s.start()

	// Not every ResponseWriter supports deadlines (httptest does not).
	if err := s.controller.SetWriteDeadline(s.clock.Now().Add(sseWriteDeadline)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := s.response.Write(frame); err != nil {
		return err
	}
	s.response.Flush()
	return nil
}
