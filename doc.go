// Package ratelimit provides Redis-backed request rate limiting for the
// Ops-Center admin API: per-category limits (auth, admin, read, write, health)
// keyed by client IP and optional user id, with a choice of sliding window or
// token bucket admission, admin bypass, and fail-open degradation when the
// store is unreachable.
//
// Construct one Limiter at process startup from LoadConfig, Initialize it, and
// either wrap handlers with Middleware or call Require before individual
// operations.
package ratelimit
