package ratelimit

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable wraps store failures surfaced in strict (fail-closed)
// mode. With FailOpen set these never reach callers.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// LimitError signals that a request was denied. It carries the full Decision
// so the HTTP boundary can render a 429 with standard headers.
type LimitError struct {
	Decision Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%s, retry after %s",
		e.Decision.Limit, e.Decision.Window, e.Decision.RetryAfter)
}

// AsLimitError unwraps err into a *LimitError if it is one.
func AsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
