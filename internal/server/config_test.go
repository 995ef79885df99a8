package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/webchat/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewConfigFromEnv tests that environment variables override defaults.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("BUS_BACKEND", "nats")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("KEY_PREFIX", "")
	t.Setenv("NATS_EMBEDDED", "true")
	t.Setenv("PING_INTERVAL", "1m")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := NewConfigFromEnv()
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, BackendNATS, cfg.BusBackend)
	assert.Equal(t, RedisConfig{Addr: "redis:6380", DB: 2, KeyPrefix: ""}, cfg.Redis)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, time.Minute, cfg.PingInterval)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

// TestNewConfigFromEnvInvalidValues tests that unparsable values keep defaults.
func TestNewConfigFromEnvInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("PING_INTERVAL", "soon")
	t.Setenv("REDIS_DB", "-3")
	t.Setenv("NATS_EMBEDDED", "maybe")

	cfg := NewConfigFromEnv()
	def := defaultConfig()
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.PingInterval, cfg.PingInterval)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.False(t, cfg.NATS.Embedded)
}

// TestConfigSanitize tests that zero values fall back to defaults.
func TestConfigSanitize(t *testing.T) {
	cfg := Config{StoreBackend: " REDIS ", BusBackend: "kafka"}.Sanitize()
	def := defaultConfig()

	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.BusBackend)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.SessionTTL, cfg.SessionTTL)
	assert.Equal(t, def.CookieName, cfg.CookieName)
	assert.Equal(t, def.DefaultRoom, cfg.DefaultRoom)
}

// TestConfigSanitizeDefaultRoom tests that the default room must be a valid
// room name.
func TestConfigSanitizeDefaultRoom(t *testing.T) {
	tests := []struct {
		room string
		want string
	}{
		{"lobby", "lobby"},
		{"  lobby ", "lobby"},
		{"my room", "global"},
		{"<script>", "global"},
		{"", "global"},
	}
	for _, tt := range tests {
		cfg := Config{DefaultRoom: tt.room}.Sanitize()
		assert.Equal(t, tt.want, cfg.DefaultRoom, "room %q", tt.room)
	}
}

// TestOriginPolicy tests origin normalization and matching.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://Localhost:8080", "not-a-url", " "}, discardLogger())
	wildcard := newOriginPolicy([]string{"*"}, discardLogger())

	tests := []struct {
		origin   string
		allowed  bool
		wildcard bool
	}{
		{"http://localhost:8080", true, true},
		{"http://LOCALHOST:8080", true, true},
		{"http://localhost:9090", false, true},
		{"https://localhost:8080", false, true},
		{"", false, false},
		{"not-a-url", false, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("origin %q", tt.origin), func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, policy.checkOrigin(r))
			assert.Equal(t, tt.wildcard, wildcard.checkOrigin(r))
		})
	}
}

// TestStatusFor tests the mapping of chat errors onto HTTP statuses.
func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{chat.ErrNotAuthenticated, http.StatusForbidden},
		{chat.ErrWrongRoom, http.StatusForbidden},
		{chat.ErrNicknameInUse, http.StatusConflict},
		{chat.ErrInvalidNickname, http.StatusBadRequest},
		{chat.ErrInvalidRoom, http.StatusBadRequest},
		{chat.ErrInvalidMessage, http.StatusBadRequest},
		{chat.ErrNoUsers, http.StatusNotFound},
		{errRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("join: %w: %w", chat.ErrBackendUnavailable, errors.New("dial tcp")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

// TestIsExpectedCloseError tests the close error classification.
func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errors.New("write: broken pipe")))
	assert.True(t, isExpectedCloseError(errors.New("use of closed network connection")))
	assert.False(t, isExpectedCloseError(errors.New("i/o timeout")))
}
