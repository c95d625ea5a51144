package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/httpserver"
	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/redis"
	"github.com/emanguy/QuestTracker-NotificationService/internal/app"
	"github.com/emanguy/QuestTracker-NotificationService/internal/broadcast"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/config"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/logging"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/version"
)

const (
	connectTimeout  = 3 * time.Minute
	shutdownTimeout = 10 * time.Second
)

var errShutdownSignal = errors.New("shutdown signal received")

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func newDialer(cfg *config.Config, clock clockwork.Clock, m *metrics.Set) app.Dialer {
	return func(ctx context.Context) (app.Transport, error) {
		conns, err := redis.Connect(ctx, cfg.Credentials(),
			redis.WithClock(clock),
			redis.WithReconnectWait(cfg.RedisReconnectWait),
			redis.WithMetrics(m.Redis, m.Bridge),
		)
		if err != nil {
			return nil, err
		}
		return conns, nil
	}
}

func hubConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		HistorySize:  cfg.SSEHistorySize,
		PingInterval: cfg.SSEPingInterval,
		MaxClients:   cfg.MaxClients,
	}
}

// supervise runs the HTTP server until a signal arrives, the server fails or
// the broker connection becomes unusable.
func supervise(srv *httpserver.Server, registry *app.Registry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-registry.Fatal():
			return fmt.Errorf("broker connection lost: %w", err)
		case <-gctx.Done():
			if ctx.Err() != nil {
				return errShutdownSignal
			}
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	registry.Close()
	if errors.Is(err, errShutdownSignal) {
		return nil
	}
	return err
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", version.Get().String())

	reg := metrics.NewRegistry()
	m := metrics.NewSet(reg)

	registry := app.NewRegistry(newDialer(cfg, clock, m), hubConfig(cfg), clock, m)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	_, err := registry.ConnectionBridge(ctx)
	cancel()
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		registry.Close()
		os.Exit(1)
	}

	srv := httpserver.NewServer(cfg, registry, clock, metrics.Handler(reg), m)

	if err := supervise(srv, registry); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
