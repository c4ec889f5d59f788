// Package server provides configuration helpers that define runtime defaults,
// validation, and liveness parameters for the chat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// LivenessConfig defines the heartbeat of every connection: a ping every
// PingInterval, answered by a pong within PongDeadline.
type LivenessConfig struct {
	PingInterval time.Duration
	PongDeadline time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	Liveness       LivenessConfig
	DatabaseURL    string
	JWTSecret      string
	TokenTTL       time.Duration
	UploadDir      string
	CookieSecure   bool
	LogLevel       string
}

const (
	defaultPort           = ":4000"
	defaultMaxMessageSize = 10 << 20
	defaultPingInterval   = 15 * time.Second
	defaultPongDeadline   = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:5173",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Liveness: LivenessConfig{
			PingInterval: defaultPingInterval,
			PongDeadline: defaultPongDeadline,
		},
		DatabaseURL:  "sqlite://chat.db",
		TokenTTL:     7 * 24 * time.Hour,
		UploadDir:    "uploads",
		CookieSecure: true,
		LogLevel:     "info",
	}
}

// Sanitize fills zero values with defaults and enforces
// 0 < PongDeadline < PingInterval. It reports the corrections it made.
func (cfg Config) Sanitize() (Config, []string) {
	var notes []string

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.Liveness.PingInterval <= 0 {
		cfg.Liveness.PingInterval = defaultPingInterval
	}
	if cfg.Liveness.PongDeadline <= 0 {
		cfg.Liveness.PongDeadline = defaultPongDeadline
		if defaultPongDeadline >= cfg.Liveness.PingInterval {
			cfg.Liveness.PongDeadline = cfg.Liveness.PingInterval / 2
		}
	}
	if cfg.Liveness.PongDeadline >= cfg.Liveness.PingInterval {
		notes = append(notes, "pong deadline must be shorter than ping interval; using half the interval")
		cfg.Liveness.PongDeadline = cfg.Liveness.PingInterval / 2
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite://chat.db"
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg, notes
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
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("PING_INTERVAL"); v != "" {
		cfg.Liveness.PingInterval = parseDuration(v, cfg.Liveness.PingInterval)
	}
	if v := os.Getenv("PONG_DEADLINE"); v != "" {
		cfg.Liveness.PongDeadline = parseDuration(v, cfg.Liveness.PongDeadline)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		cfg.TokenTTL = parseDuration(v, cfg.TokenTTL)
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
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

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts Go durations ("1500ms", "15s").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
