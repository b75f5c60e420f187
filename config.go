package ratelimit

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StrategyName selects which algorithm the limiter dispatches to. The
// selection happens once at construction, not per request.
type StrategyName string

const (
	StrategySlidingWindow StrategyName = "sliding_window"
	StrategyTokenBucket   StrategyName = "token_bucket"
)

// Fallback applied when a limit string from the environment cannot be parsed.
var fallbackLimit = PerWindow(100, time.Minute)

var periodSeconds = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// Config holds the rate limiting options, loaded once at process start and
// never mutated afterwards.
type Config struct {
	Enabled     bool
	RedisURL    string
	Limits      map[Category]Limit
	AdminBypass bool
	FailOpen    bool
	KeyPrefix   string
	Strategy    StrategyName
}

// LoadConfig reads the recognized RATE_LIMIT_* options from the environment,
// after loading a .env file if one is present. Malformed values never cause an
// error: they are logged and replaced with safe defaults, so bad configuration
// cannot keep the host process from starting.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		Enabled:  envBool("RATE_LIMIT_ENABLED", true),
		RedisURL: envString("RATE_LIMIT_REDIS_URL", "redis://localhost:6379/0"),
		Limits: map[Category]Limit{
			CategoryAuth:  envLimit("RATE_LIMIT_AUTH", "5/minute"),
			CategoryAdmin: envLimit("RATE_LIMIT_ADMIN", "100/minute"),
			CategoryRead:  envLimit("RATE_LIMIT_READ", "200/minute"),
			CategoryWrite: envLimit("RATE_LIMIT_WRITE", "50/minute"),
			// health checks are never throttled
			CategoryHealth: Unlimited(),
		},
		AdminBypass: envBool("RATE_LIMIT_ADMIN_BYPASS", true),
		FailOpen:    envBool("RATE_LIMIT_FAIL_OPEN", true),
		KeyPrefix:   envString("RATE_LIMIT_KEY_PREFIX", "ratelimit:"),
		Strategy:    envStrategy("RATE_LIMIT_STRATEGY", StrategySlidingWindow),
	}
}

// parseLimit parses a "<count>/<period>" string such as "200/minute".
func parseLimit(raw string) (Limit, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), "/", 2)
	if len(parts) != 2 {
		return Limit{}, false
	}

	count, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || count == 0 {
		return Limit{}, false
	}

	window, ok := periodSeconds[strings.ToLower(strings.TrimSpace(parts[1]))]
	if !ok {
		return Limit{}, false
	}

	return PerWindow(count, window), true
}

func envLimit(key, fallback string) Limit {
	raw := envString(key, fallback)
	if limit, ok := parseLimit(raw); ok {
		return limit
	}

	slog.Warn("invalid rate limit value, using fallback",
		"option", key,
		"value", raw,
		"fallback", fallbackLimit,
	)
	return fallbackLimit
}

func envStrategy(key string, fallback StrategyName) StrategyName {
	raw := StrategyName(strings.ToLower(envString(key, string(fallback))))
	switch raw {
	case StrategySlidingWindow, StrategyTokenBucket:
		return raw
	}

	slog.Warn("unknown rate limit strategy, using fallback",
		"option", key,
		"value", raw,
		"fallback", fallback,
	)
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean option, using fallback",
			"option", key,
			"value", raw,
			"fallback", fallback,
		)
		return fallback
	}
	return value
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
