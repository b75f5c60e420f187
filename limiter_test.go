package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(addr string) Config {
	return Config{
		Enabled:  true,
		RedisURL: "redis://" + addr + "/0",
		Limits: map[Category]Limit{
			CategoryAuth:   PerWindow(5, time.Minute),
			CategoryAdmin:  PerWindow(100, time.Minute),
			CategoryRead:   PerWindow(200, time.Minute),
			CategoryWrite:  PerWindow(3, time.Minute),
			CategoryHealth: Unlimited(),
		},
		AdminBypass: true,
		FailOpen:    true,
		KeyPrefix:   "ratelimit:",
		Strategy:    StrategySlidingWindow,
	}
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()

	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

	l := New(cfg, testLogger())
	l.now = func() time.Time { return now }
	require.NoError(t, l.Initialize(context.Background()))
	t.Cleanup(func() { l.Close() })

	return l, &now
}

func TestLimiter_SlidingWindowLimit(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, now := newTestLimiter(t, testConfig(server.Addr()))
	ctx := context.Background()

	for x := 0; x < 3; x++ {
		d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, uint64(3), d.Limit)
		assert.Equal(t, uint64(x+1), d.Current)
		assert.Equal(t, uint64(3-(x+1)), d.Remaining)
		assert.Equal(t, now.Add(time.Minute).Unix(), d.Reset)
	}

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, uint64(0), d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestLimiter_KeysAreScopedByCategoryAndIdentifier(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, _ := newTestLimiter(t, testConfig(server.Addr()))
	ctx := context.Background()

	for x := 0; x < 3; x++ {
		d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	// exhausting write for one identifier affects neither another identifier
	// nor another category
	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Check(ctx, "5.6.7.8", CategoryWrite, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Check(ctx, "1.2.3.4", CategoryRead, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_WindowRotation(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, now := newTestLimiter(t, testConfig(server.Addr()))
	ctx := context.Background()

	for x := 0; x < 4; x++ {
		_, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
		require.NoError(t, err)
	}

	server.FastForward(61 * time.Second)
	*now = now.Add(61 * time.Second)

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_TokenBucketStrategy(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig(server.Addr())
	cfg.Strategy = StrategyTokenBucket

	l, now := newTestLimiter(t, cfg)
	ctx := context.Background()

	for x := 0; x < 3; x++ {
		d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)

	// a token refills every window/max = 20 seconds
	*now = now.Add(21 * time.Second)

	d, err = l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := testConfig("localhost:0")
	cfg.Enabled = false

	// the store is never contacted: no Initialize, no running server
	l := New(cfg, testLogger())
	require.NoError(t, l.Initialize(context.Background()))

	for x := 0; x < 100; x++ {
		d, err := l.Check(context.Background(), "1.2.3.4", CategoryAuth, false)
		require.NoError(t, err)
		assert.Equal(t, Decision{Allowed: true}, d)
	}
}

func TestLimiter_HealthIsUnlimited(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, _ := newTestLimiter(t, testConfig(server.Addr()))

	for x := 0; x < 500; x++ {
		d, err := l.Check(context.Background(), "1.2.3.4", CategoryHealth, false)
		require.NoError(t, err)
		assert.Equal(t, Decision{Allowed: true}, d)
	}
}

func TestLimiter_UnknownCategoryIsUnlimited(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, _ := newTestLimiter(t, testConfig(server.Addr()))

	d, err := l.Check(context.Background(), "1.2.3.4", Category("metrics"), false)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true}, d)
}

func TestLimiter_AdminBypass(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, _ := newTestLimiter(t, testConfig(server.Addr()))
	ctx := context.Background()

	// exhaust the write limit first
	for x := 0; x < 4; x++ {
		_, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, true)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Bypassed)
}

func TestLimiter_AdminBypassDisabled(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig(server.Addr())
	cfg.AdminBypass = false

	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	for x := 0; x < 3; x++ {
		_, err := l.Check(ctx, "1.2.3.4", CategoryWrite, true)
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, true)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Bypassed)
}

func TestLimiter_FailOpenOnUnreachableStore(t *testing.T) {
	cfg := testConfig("localhost:1")
	cfg.RedisURL = "redis://localhost:1/0"

	l := New(cfg, testLogger())
	require.NoError(t, l.Initialize(context.Background()))

	// degraded mode: every check allows without error
	for x := 0; x < 50; x++ {
		d, err := l.Check(context.Background(), "1.2.3.4", CategoryAuth, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestLimiter_FailOpenOnStoreOutage(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	l, _ := newTestLimiter(t, testConfig(server.Addr()))
	ctx := context.Background()

	d, err := l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	server.Close()

	d, err = l.Check(ctx, "1.2.3.4", CategoryWrite, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_StrictModeSurfacesStartupFailure(t *testing.T) {
	cfg := testConfig("localhost:1")
	cfg.RedisURL = "redis://localhost:1/0"
	cfg.FailOpen = false

	l := New(cfg, testLogger())
	assert.Error(t, l.Initialize(context.Background()))
}

func TestLimiter_StrictModeSurfacesCheckFailure(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	cfg := testConfig(server.Addr())
	cfg.FailOpen = false

	l, _ := newTestLimiter(t, cfg)

	server.Close()

	_, err = l.Check(context.Background(), "1.2.3.4", CategoryWrite, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLimiter_InitializeIsIdempotent(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	l, _ := newTestLimiter(t, testConfig(server.Addr()))

	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.Initialize(context.Background()))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestLimiter_ConcurrentChecksStayWithinLimit(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig(server.Addr())
	cfg.Limits[CategoryRead] = PerWindow(50, time.Minute)

	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	allowed := make(chan bool, 200)
	for x := 0; x < 200; x++ {
		go func() {
			d, err := l.Check(ctx, "1.2.3.4", CategoryRead, false)
			assert.NoError(t, err)
			allowed <- d.Allowed
		}()
	}

	var admitted int
	for x := 0; x < 200; x++ {
		if <-allowed {
			admitted++
		}
	}
	assert.Equal(t, 50, admitted)
}
