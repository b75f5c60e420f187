// Package strategies implements the rate limiting algorithms backed by a
// shared Redis store. Both strategies are safe for concurrent use; the sliding
// window is linearized by a Redis pipeline, while the token bucket performs a
// non-atomic read-modify-write (see NewTokenBucket).
package strategies

import (
	"context"
	"time"
)

// Request describes a single admission check against one rate limit bucket.
// Key identifies the caller (already scoped by category and prefix),
// MaxRequests is the number of requests allowed over Window.
type Request struct {
	Key         string
	MaxRequests uint64
	Window      time.Duration
}

// Result is the outcome of a check. Current is the number of requests counted
// against the bucket (sliding window) or the remaining whole tokens (token
// bucket). RetryAfter is zero when the request was allowed.
type Result struct {
	Allowed    bool
	Current    uint64
	RetryAfter time.Duration
}

// Strategy is the contract both algorithms implement. Execute returns an error
// only for store failures; a denied request is a normal Result, not an error.
type Strategy interface {
	Execute(ctx context.Context, r *Request) (*Result, error)
}
