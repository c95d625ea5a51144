package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/version"
)

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/version", s.handleVersion)
}

// handleHealth runs a broker round-trip probe. It only succeeds when this
// process can both publish to and receive from the broker.
func (s *Server) handleHealth(c echo.Context) error {
	status, body := http.StatusOK, "ok"
	if !s.services.SendTestMessage(c.Request().Context()) {
		status, body = http.StatusInternalServerError, "unhealthy"
	}

	if err := c.JSON(status, map[string]string{"status": body}); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":  "ok",
		"uptime":  s.clock.Since(s.startTime).Seconds(),
		"clients": s.services.BroadcastHub().ClientCount(),
		"broker":  s.services.BrokerState(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
