package strategies

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Strategy = &slidingWindow{}

type slidingWindow struct {
	client *redis.Client
	now    func() time.Time
}

// NewSlidingWindow creates a sliding window strategy. Each key holds a sorted
// set of request timestamps; entries older than the trailing window are pruned
// on every check and the pre-add cardinality decides admission. The incoming
// request is recorded even when it is denied, so a caller hammering a full
// window keeps pushing its own recovery out.
func NewSlidingWindow(client *redis.Client, now func() time.Time) Strategy {
	return &slidingWindow{client: client, now: now}
}

func (s *slidingWindow) Execute(ctx context.Context, r *Request) (*Result, error) {
	now := unixSeconds(s.now())
	windowStart := now - r.Window.Seconds()

	// MULTI/EXEC so concurrent checks on one key are linearized by the store
	// and cannot both observe the same free slot
	p := s.client.TxPipeline()

	// prune everything that has aged out of the window
	remove := p.ZRemRangeByScore(ctx, r.Key, "0", formatScore(windowStart))

	// count before adding: the current request does not count against itself
	count := p.ZCard(ctx, r.Key)

	// record the request unconditionally, uuid members so that two checks on
	// the same clock reading still count as two requests
	p.ZAdd(ctx, r.Key, redis.Z{Score: now, Member: uuid.NewString()})

	// inactive keys self-expire
	p.Expire(ctx, r.Key, r.Window+time.Second)

	if _, err := p.Exec(ctx); err != nil {
		return nil, fmt.Errorf("sliding window pipeline failed for key %v: %w", r.Key, err)
	}
	if err := remove.Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired requests for key %v: %w", r.Key, err)
	}

	current, err := count.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count requests for key %v: %w", r.Key, err)
	}

	if uint64(current) >= r.MaxRequests {
		retryAfter, err := s.retryAfter(ctx, r.Key, windowStart, r.Window)
		if err != nil {
			return nil, err
		}
		return &Result{
			Allowed:    false,
			Current:    uint64(current),
			RetryAfter: retryAfter,
		}, nil
	}

	return &Result{
		Allowed: true,
		Current: uint64(current) + 1,
	}, nil
}

// retryAfter derives the wait from the oldest entry still inside the window.
func (s *slidingWindow) retryAfter(ctx context.Context, key string, windowStart float64, window time.Duration) (time.Duration, error) {
	oldest, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest request for key %v: %w", key, err)
	}
	if len(oldest) == 0 {
		return time.Second, nil
	}

	seconds := windowStart + window.Seconds() - oldest[0].Score + 1
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
