package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_PASSWORD", "testRedis")
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "80", cfg.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 10*time.Second, cfg.RedisReconnectWait)
	assert.Equal(t, 100, cfg.SSEHistorySize)
	assert.Equal(t, 30*time.Second, cfg.SSEPingInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Equal(t, 5.0, cfg.PushRate)
	assert.Equal(t, 10, cfg.PushBurst)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingPassword(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
	assert.Contains(t, err.Error(), "REDIS_PASSWORD is required")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("SSE_HISTORY_SIZE", "0")
	t.Setenv("CORS_ORIGINS", "https://quests.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, domain.Credentials{URL: "redis://cache:6380", Password: "testRedis"}, cfg.Credentials())
	assert.Equal(t, 0, cfg.SSEHistorySize)
	assert.Equal(t, []string{"https://quests.example.com", "https://admin.example.com"}, cfg.AllowedOrigins())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"negative history", "SSE_HISTORY_SIZE", "-1", "SSE_HISTORY_SIZE must not be negative"},
		{"zero ping", "SSE_PING_INTERVAL", "0s", "SSE_PING_INTERVAL must be positive"},
		{"zero reconnect wait", "REDIS_RECONNECT_WAIT", "0s", "REDIS_RECONNECT_WAIT must be positive"},
		{"zero max clients", "MAX_CLIENTS", "0", "MAX_CLIENTS must be at least 1"},
		{"zero per ip", "CONNECTIONS_PER_IP", "0", "connection limits must be positive"},
		{"zero push rate", "PUSH_RATE", "0", "push limits must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
