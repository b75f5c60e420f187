package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saashqdev/ops-center-ratelimit/strategies"
)

const (
	dialTimeout      = 3 * time.Second
	operationTimeout = 2 * time.Second
)

// Decision is the outcome of a single rate limit check. It is produced fresh
// on every call and never persisted.
type Decision struct {
	Allowed    bool
	Bypassed   bool
	Limit      uint64
	Window     time.Duration
	Current    uint64
	Remaining  uint64
	Reset      int64
	RetryAfter time.Duration
}

// Limiter is the sole authority on whether an (identifier, category) pair may
// proceed. It owns the process-wide Redis client, created once in Initialize
// and shared by every concurrent check.
//
// Construct one Limiter at process startup and pass it explicitly to whatever
// consumes it; there is no package-level instance.
type Limiter struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	client   *redis.Client
	strategy strategies.Strategy
}

// New creates a Limiter from the given configuration. A nil logger falls back
// to slog.Default. The limiter is unusable against the store until Initialize
// succeeds; checks before that follow the fail-open policy.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Initialize opens the Redis connection and verifies it with a ping.
// Idempotent: a no-op when already initialized or when rate limiting is
// disabled. When the store is unreachable and FailOpen is set, the limiter
// logs and runs in a degraded always-allow mode; a later Initialize call may
// still bring it up. With FailOpen unset the error is returned so the host can
// refuse to serve traffic.
func (l *Limiter) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled || l.client != nil {
		return nil
	}

	opt, err := redis.ParseURL(l.cfg.RedisURL)
	if err != nil {
		return l.initFailure(fmt.Errorf("invalid store URL %q: %w", l.cfg.RedisURL, err))
	}
	opt.DialTimeout = dialTimeout
	opt.ReadTimeout = operationTimeout
	opt.WriteTimeout = operationTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return l.initFailure(fmt.Errorf("store ping failed: %w", err))
	}

	l.client = client
	switch l.cfg.Strategy {
	case StrategyTokenBucket:
		l.strategy = strategies.NewTokenBucket(client, l.now)
	default:
		l.strategy = strategies.NewSlidingWindow(client, l.now)
	}

	l.logger.Info("rate limiter initialized",
		"strategy", l.cfg.Strategy,
		"fail_open", l.cfg.FailOpen,
	)
	return nil
}

func (l *Limiter) initFailure(err error) error {
	if l.cfg.FailOpen {
		l.logger.Error("rate limiter degraded to always-allow", "error", err)
		return nil
	}
	return err
}

// Close releases the store connection. Safe to call multiple times.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	l.strategy = nil
	return err
}

// Check reports whether the identifier may proceed in the given category.
//
// A store failure is handled per the fail-open policy: with FailOpen set the
// request is allowed with a zeroed Decision and a nil error; otherwise the
// error is returned and the caller decides whether that becomes a 5xx. A
// denied request is not an error.
func (l *Limiter) Check(ctx context.Context, identifier string, category Category, isAdmin bool) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	if isAdmin && l.cfg.AdminBypass {
		return Decision{Allowed: true, Bypassed: true}, nil
	}

	max, window, bounded := l.cfg.Limits[category].Bounds()
	if !bounded {
		return Decision{Allowed: true}, nil
	}

	strategy := l.currentStrategy()
	if strategy == nil {
		return l.checkFailure(fmt.Errorf("%w: limiter not initialized", ErrStoreUnavailable), identifier, category)
	}

	result, err := strategy.Execute(ctx, &strategies.Request{
		Key:         fmt.Sprintf("%s%s:%s", l.cfg.KeyPrefix, category, identifier),
		MaxRequests: max,
		Window:      window,
	})
	if err != nil {
		return l.checkFailure(fmt.Errorf("%w: %v", ErrStoreUnavailable, err), identifier, category)
	}

	d := Decision{
		Allowed: result.Allowed,
		Limit:   max,
		Window:  window,
		Current: result.Current,
		Reset:   l.now().Add(window).Unix(),
	}
	if d.Current < max {
		d.Remaining = max - d.Current
	}
	if !result.Allowed {
		d.RetryAfter = result.RetryAfter
	}
	return d, nil
}

func (l *Limiter) currentStrategy() strategies.Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.strategy
}

func (l *Limiter) checkFailure(err error, identifier string, category Category) (Decision, error) {
	if l.cfg.FailOpen {
		l.logger.Error("rate limit check failed, allowing request",
			"error", err,
			"identifier", identifier,
			"category", category,
		)
		return Decision{Allowed: true}, nil
	}
	return Decision{}, err
}
