package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/websocket"
	"github.com/emanguy/QuestTracker-NotificationService/internal/broadcast"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/correlation"
	apperrors "github.com/emanguy/QuestTracker-NotificationService/internal/platform/errors"
)

const maxPushBodyBytes = 1 << 20

func (s *Server) registerPushRoutes() {
	push := s.echo.Group("/push")
	push.GET("/", s.handlePushRoot)
	push.GET("/register", s.handleRegister)
	push.GET("/ws", s.handleWebSocket)
	push.POST("/newObject", s.handleNewObject, newPushRateLimiter(s.config.PushRate, s.config.PushBurst))
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, "Hello, world!")
}

func (s *Server) handlePushRoot(c echo.Context) error {
	return c.String(http.StatusOK, "Hello world!")
}

// handleRegister holds the request open as an SSE stream until the client
// goes away or the hub drops it.
func (s *Server) handleRegister(c echo.Context) error {
	ip := c.RealIP()
	if err := s.acquire(ip); err != nil {
		return err
	}
	defer s.limits.Release(ip)

	stream := newSSEStream(c.Response(), s.clock)
	client, err := s.services.BroadcastHub().Register(stream, c.Request().Header.Get("Last-Event-ID"))
	if err != nil {
		return registerError(err)
	}
	stream.start()

	tagClient(c, client)
	slog.InfoContext(c.Request().Context(), "Stream client registered", "transport", "sse")
	s.hold(c, client, nil)
	return nil
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if err := s.acquire(ip); err != nil {
		return err
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	stream := websocket.NewStream(conn, s.clock)
	client, err := s.services.BroadcastHub().Register(stream, c.QueryParam("lastEventId"))
	if err != nil {
		_ = stream.Close()
		slog.WarnContext(c.Request().Context(), "WebSocket client rejected", "error", err)
		return nil
	}

	readDone := make(chan struct{})
	go func() {
		stream.ReadLoop()
		close(readDone)
	}()

	tagClient(c, client)
	slog.InfoContext(c.Request().Context(), "Stream client registered", "transport", "websocket")
	s.hold(c, client, readDone)
	return nil
}

// hold blocks until the request context ends, the client's writer stops or
// gone fires, then makes sure the writer has exited before returning.
func (s *Server) hold(c echo.Context, client *broadcast.Client, gone <-chan struct{}) {
	hub := s.services.BroadcastHub()
	select {
	case <-c.Request().Context().Done():
	case <-client.Done():
	case <-gone:
	}
	hub.Unregister(client)
	<-client.Done()
	slog.InfoContext(c.Request().Context(), "Stream client disconnected")
}

// tagClient makes the client id part of every later log line of the request.
func tagClient(c echo.Context, client *broadcast.Client) {
	ctx := correlation.WithClientID(c.Request().Context(), client.ID)
	c.SetRequest(c.Request().WithContext(ctx))
}

func (s *Server) acquire(ip string) error {
	ok, reason := s.limits.Acquire(ip)
	if ok {
		return nil
	}
	if s.hubMetrics != nil {
		s.hubMetrics.RejectedClients.WithLabelValues(string(reason)).Inc()
	}
	return apperrors.RateLimitedError("too many stream connections").WithContext("reason", string(reason))
}

func registerError(err error) error {
	switch {
	case errors.Is(err, domain.ErrTooManyClients):
		return apperrors.UnavailableError("server is at its client limit", err)
	case errors.Is(err, domain.ErrHubStopped):
		return apperrors.UnavailableError("server is shutting down", err)
	default:
		return apperrors.InternalError("failed to register client", err)
	}
}

// handleNewObject broadcasts the posted JSON document as a new_item event.
func (s *Server) handleNewObject(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBodyBytes+1))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}
	if len(body) > maxPushBodyBytes {
		return apperrors.ValidationError("request body too large")
	}
	if !json.Valid(body) {
		return apperrors.ValidationError("request body must be valid JSON")
	}

	if err := s.services.BroadcastHub().BroadcastAdd(json.RawMessage(body)); err != nil {
		return registerError(err)
	}

	if err := c.NoContent(http.StatusCreated); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
