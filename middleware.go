package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// UserIDFunc extracts an optional user id from a request, typically from a
// session or token already validated upstream. Empty string means anonymous.
type UserIDFunc func(r *http.Request) string

// AdminFunc reports whether the request comes from an admin caller.
type AdminFunc func(r *http.Request) bool

// Options configures the middleware behavior.
type Options struct {
	// UserID extracts the user id folded into the identifier. Default: none.
	UserID UserIDFunc

	// IsAdmin decides admin bypass eligibility. Default: never.
	IsAdmin AdminFunc

	// TrustForwardedHeader enables X-Forwarded-For identifier derivation.
	// Only set this behind a reverse proxy that overwrites the header.
	TrustForwardedHeader bool

	Logger *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithUserID sets the user id extractor.
func WithUserID(fn UserIDFunc) Option {
	return func(o *Options) { o.UserID = fn }
}

// WithAdminCheck sets the admin detector.
func WithAdminCheck(fn AdminFunc) Option {
	return func(o *Options) { o.IsAdmin = fn }
}

// WithTrustForwardedHeader enables first-hop X-Forwarded-For trust.
func WithTrustForwardedHeader(trust bool) Option {
	return func(o *Options) { o.TrustForwardedHeader = trust }
}

// WithLogger sets the middleware logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Middleware wraps a handler with a rate limit check. The request path is
// classified into a category, the caller identifier is derived, and the
// limiter decides. Allowed requests carry X-RateLimit-* headers through;
// denied requests get a 429 with Retry-After. A strict-mode store failure
// becomes a 500.
func Middleware(limiter *Limiter, opts ...Option) func(http.Handler) http.Handler {
	options := &Options{Logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if options.UserID != nil {
				userID = options.UserID(r)
			}
			isAdmin := options.IsAdmin != nil && options.IsAdmin(r)

			identifier := ClientIdentifier(r, userID, options.TrustForwardedHeader)
			category := ClassifyPath(r.URL.Path)

			decision, err := limiter.Check(r.Context(), identifier, category, isAdmin)
			if err != nil {
				options.Logger.Error("rate limit check failed",
					"error", err,
					"path", r.URL.Path,
					"category", category,
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			setLimitHeaders(w, decision)

			if !decision.Allowed {
				options.Logger.Warn("rate limit exceeded",
					"identifier", identifier,
					"category", category,
					"path", r.URL.Path,
					"retry_after", decision.RetryAfter,
				)
				WriteLimitExceeded(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Require is the manual check helper for callers outside the middleware
// pattern: derive the identifier, run the check, and return a *LimitError
// carrying the Decision when the request is denied.
func Require(ctx context.Context, limiter *Limiter, r *http.Request, category Category, userID string, isAdmin bool) error {
	identifier := ClientIdentifier(r, userID, false)

	decision, err := limiter.Check(ctx, identifier, category, isAdmin)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &LimitError{Decision: decision}
	}
	return nil
}

// WriteLimitExceeded renders the standard 429 response for a denied decision.
func WriteLimitExceeded(w http.ResponseWriter, d Decision) {
	setLimitHeaders(w, d)

	retryAfter := int(d.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     fmt.Sprintf("rate limit of %d requests per %s exceeded, retry in %d seconds", d.Limit, d.Window, retryAfter),
		"retry_after": retryAfter,
	})
}

func setLimitHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit == 0 {
		// disabled, bypassed or unlimited category: nothing meaningful to report
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatUint(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatUint(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))
}
