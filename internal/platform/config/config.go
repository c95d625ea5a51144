package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"80"`
	RedisURL      string `env:"REDIS_URL" default:"redis://localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	RedisReconnectWait time.Duration `env:"REDIS_RECONNECT_WAIT" default:"10s"`

	SSEHistorySize  int           `env:"SSE_HISTORY_SIZE" default:"100"`
	SSEPingInterval time.Duration `env:"SSE_PING_INTERVAL" default:"30s"`
	MaxClients      int           `env:"MAX_CLIENTS" default:"10000"`

	CORSOrigins      string  `env:"CORS_ORIGINS" default:"*"`
	ConnectionsPerIP int     `env:"CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate   float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst  int     `env:"CONNECTION_BURST" default:"20"`

	PushRate  float64 `env:"PUSH_RATE" default:"5"`
	PushBurst int     `env:"PUSH_BURST" default:"10"`
}

// Load reads .env (if present) and the environment. A missing broker
// credential is reported as domain.ErrMissingCredential.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Credentials returns what the broker connection needs.
func (c *Config) Credentials() domain.Credentials {
	return domain.Credentials{URL: c.RedisURL, Password: c.RedisPassword}
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	if cfg.RedisPassword == "" {
		return fmt.Errorf("REDIS_PASSWORD is required: %w", domain.ErrMissingCredential)
	}
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL must not be empty")
	}
	if cfg.SSEHistorySize < 0 {
		return errors.New("SSE_HISTORY_SIZE must not be negative")
	}
	if cfg.SSEPingInterval <= 0 {
		return errors.New("SSE_PING_INTERVAL must be positive")
	}
	if cfg.RedisReconnectWait <= 0 {
		return errors.New("REDIS_RECONNECT_WAIT must be positive")
	}
	if cfg.MaxClients < 1 {
		return errors.New("MAX_CLIENTS must be at least 1")
	}
	if cfg.ConnectionsPerIP < 1 || cfg.ConnectionBurst < 1 || cfg.ConnectionRate <= 0 {
		return errors.New("connection limits must be positive")
	}
	if cfg.PushRate <= 0 || cfg.PushBurst < 1 {
		return errors.New("push limits must be positive")
	}
	return nil
}
