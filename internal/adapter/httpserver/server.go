package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/websocket"
	"github.com/emanguy/QuestTracker-NotificationService/internal/broadcast"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/config"
)

// Services is what the HTTP layer needs from the service registry.
type Services interface {
	BroadcastHub() *broadcast.Hub
	SendTestMessage(ctx context.Context) bool
	BrokerState() string
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	services Services
	limits   *ConnectionLimits
	upgrader *gorillaws.Upgrader
	clock    clockwork.Clock

	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	hubMetrics     *metrics.HubMetrics

	startTime time.Time
}

// NewServer builds the server and registers its routes. metricsHandler and
// the metric groups may be nil.
func NewServer(cfg *config.Config, services Services, clock clockwork.Clock, metricsHandler http.Handler, m *metrics.Set) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		services:       services,
		limits:         NewConnectionLimits(cfg.ConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst, clock),
		upgrader:       websocket.NewUpgrader(websocket.NewCheckOrigin(cfg.AllowedOrigins(), cfg.IsDevelopment())),
		clock:          clock,
		metricsHandler: metricsHandler,
		startTime:      clock.Now(),
	}
	if m != nil {
		srv.httpMetrics = m.HTTP
		srv.hubMetrics = m.Hub
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware stack.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
