// Package server provides configuration helpers that define runtime defaults,
// validation, and backend selection for the webchat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/webchat/internal/chat"
)

// Backend names accepted for the presence store and the bus.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// RateLimitConfig defines the parameters for per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// RedisConfig locates the Redis server used by the redis backends.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NATSConfig locates the NATS server used by the nats backends. When
// Embedded is set an in-process server is started instead of dialing URL.
type NATSConfig struct {
	URL          string
	Embedded     bool
	StoreDir     string
	BucketPrefix string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string
	AllowedOrigins   []string
	MaxMessageSize   int64
	MaxMessageLength int
	RateLimit        RateLimitConfig

	StoreBackend string
	BusBackend   string
	Redis        RedisConfig
	NATS         NATSConfig

	DefaultRoom     string
	PingInterval    time.Duration
	SessionTTL      time.Duration
	CookieName      string
	ShutdownTimeout time.Duration
	LogLevel        string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:   16 * 1024,
		MaxMessageLength: 5000,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		StoreBackend: BackendMemory,
		BusBackend:   BackendMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "webchat:",
		},
		NATS: NATSConfig{
			URL:          "nats://localhost:4222",
			BucketPrefix: "webchat",
		},
		DefaultRoom:     "global",
		PingInterval:    30 * time.Second,
		SessionTTL:      10 * time.Minute,
		CookieName:      "webchat_session",
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
	}
}

// Sanitize returns a copy of cfg with every unset or invalid field replaced
// by its default.
func (cfg Config) Sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	cfg.StoreBackend = sanitizeBackend(cfg.StoreBackend)
	cfg.BusBackend = sanitizeBackend(cfg.BusBackend)
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = def.NATS.URL
	}
	if cfg.NATS.BucketPrefix == "" {
		cfg.NATS.BucketPrefix = def.NATS.BucketPrefix
	}
	cfg.DefaultRoom = strings.TrimSpace(cfg.DefaultRoom)
	if chat.ValidateRoom(cfg.DefaultRoom) != nil {
		cfg.DefaultRoom = def.DefaultRoom
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func sanitizeBackend(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BackendRedis:
		return BackendRedis
	case BackendNATS:
		return BackendNATS
	default:
		return BackendMemory
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if maxLength := os.Getenv("MAX_MESSAGE_LENGTH"); maxLength != "" {
		cfg.MaxMessageLength = parseIntValue(maxLength, cfg.MaxMessageLength)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	// Backends
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.StoreBackend = backend
	}
	if backend := os.Getenv("BUS_BACKEND"); backend != "" {
		cfg.BusBackend = backend
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		cfg.Redis.DB = parseNonNegative(db, cfg.Redis.DB)
	}
	if prefix, ok := os.LookupEnv("KEY_PREFIX"); ok {
		cfg.Redis.KeyPrefix = prefix
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
	if embedded := os.Getenv("NATS_EMBEDDED"); embedded != "" {
		cfg.NATS.Embedded = parseBool(embedded, cfg.NATS.Embedded)
	}
	if dir := os.Getenv("NATS_STORE_DIR"); dir != "" {
		cfg.NATS.StoreDir = dir
	}

	// Chat behaviour
	if room := os.Getenv("DEFAULT_ROOM"); room != "" {
		cfg.DefaultRoom = room
	}
	if interval := os.Getenv("PING_INTERVAL"); interval != "" {
		cfg.PingInterval = parseSeconds(interval, cfg.PingInterval)
	}
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		cfg.SessionTTL = parseSeconds(ttl, cfg.SessionTTL)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseNonNegative(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a whole number of seconds or a Go duration
// string such as "1m30s".
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}
