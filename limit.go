package ratelimit

import (
	"fmt"
	"time"
)

// Category is a named class of endpoint, each with its own configured limit.
type Category string

const (
	CategoryAuth   Category = "auth"
	CategoryAdmin  Category = "admin"
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryHealth Category = "health"
)

// Limit is either unlimited or bounded to a maximum number of requests per
// window. The zero value is unlimited.
type Limit struct {
	maxRequests uint64
	window      time.Duration
	bounded     bool
}

// Unlimited returns the limit that admits every request.
func Unlimited() Limit {
	return Limit{}
}

// PerWindow returns a limit of max requests over the given window.
func PerWindow(max uint64, window time.Duration) Limit {
	return Limit{maxRequests: max, window: window, bounded: true}
}

// Bounds reports the limit's parameters; ok is false for an unlimited limit.
func (l Limit) Bounds() (max uint64, window time.Duration, ok bool) {
	return l.maxRequests, l.window, l.bounded
}

func (l Limit) String() string {
	if !l.bounded {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", l.maxRequests, l.window)
}
