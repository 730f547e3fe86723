package guard

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration, base time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = base.Add(offset)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		AllowedOrigins:       []string{"https://closet.example.com", "http://localhost"},
		SharedSecret:         testSecret,
		MaxRequestsPerMinute: 2,
		MaxRequestsPerHour:   10,
		MaxPayloadBytes:      DefaultMaxPayloadBytes,
	}
}

func newTestGuard(t *testing.T, cfg Config, clock *fakeClock) (*Guard, *MemoryLog) {
	t.Helper()
	log := NewMemoryLog(time.Hour)
	g, err := New(cfg, log, WithClock(clock.Now))
	require.NoError(t, err)
	return g, log
}

func validRequest(identity string) Request {
	return Request{
		Origin:   "https://closet.example.com",
		Identity: identity,
		Token:    testSecret,
		Payload:  []byte("aGVsbG8="),
	}
}

func TestGuard_MinuteWindowScenario(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	g, log := newTestGuard(t, testConfig(), clock)
	ctx := context.Background()

	steps := []struct {
		at   time.Duration
		want Decision
	}{
		{0, Admit()},
		{10 * time.Second, Admit()},
		{20 * time.Second, Reject(ReasonRateLimited)},
		{65 * time.Second, Admit()},
	}

	for _, step := range steps {
		clock.Set(step.at, start)
		got, err := g.Evaluate(ctx, validRequest("1.2.3.4"))
		require.NoError(t, err)
		assert.Equal(t, step.want, got, "at t=%s", step.at)
	}

	assert.Len(t, log.Entries("1.2.3.4"), 3, "t=65s should be the third hourly entry")
}

func TestGuard_HourWindowCountsSpacedRequests(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxRequestsPerHour = 3
	g, _ := newTestGuard(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := g.Evaluate(ctx, validRequest("10.0.0.1"))
		require.NoError(t, err)
		require.True(t, got.Admitted, "request %d", i+1)
		clock.Advance(61 * time.Second)
	}

	got, err := g.Evaluate(ctx, validRequest("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, Reject(ReasonRateLimited), got)
}

func TestGuard_PrunesEntriesOlderThanAnHour(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxRequestsPerMinute = 100
	cfg.MaxRequestsPerHour = 2
	g, log := newTestGuard(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := g.Evaluate(ctx, validRequest("10.0.0.2"))
		require.NoError(t, err)
		require.True(t, got.Admitted)
	}

	clock.Advance(59 * time.Minute)
	got, err := g.Evaluate(ctx, validRequest("10.0.0.2"))
	require.NoError(t, err)
	assert.Equal(t, Reject(ReasonRateLimited), got)

	clock.Advance(time.Minute)
	got, err = g.Evaluate(ctx, validRequest("10.0.0.2"))
	require.NoError(t, err)
	assert.True(t, got.Admitted)
	assert.Len(t, log.Entries("10.0.0.2"), 1)
}

func TestGuard_IdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	g, _ := newTestGuard(t, testConfig(), clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Evaluate(ctx, validRequest("1.1.1.1"))
		require.NoError(t, err)
	}

	limited, err := g.Evaluate(ctx, validRequest("1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, limited.Reason)

	other, err := g.Evaluate(ctx, validRequest("2.2.2.2"))
	require.NoError(t, err)
	assert.True(t, other.Admitted)
}

func TestGuard_RejectionReasons(t *testing.T) {
	tt := []struct {
		desc   string
		mutate func(*Request)
		want   Reason
	}{
		{
			desc:   "unknown origin with valid token and payload",
			mutate: func(r *Request) { r.Origin = "https://evil.example.net" },
			want:   ReasonUnauthorizedOrigin,
		},
		{
			desc:   "no origin and no referer",
			mutate: func(r *Request) { r.Origin = "" },
			want:   ReasonUnauthorizedOrigin,
		},
		{
			desc: "referer alone is enough",
			mutate: func(r *Request) {
				r.Origin = ""
				r.Referer = "http://localhost:8000/index.html"
			},
			want: ReasonNone,
		},
		{
			desc:   "origin must be a prefix match",
			mutate: func(r *Request) { r.Origin = "https://evil.example.net/https://closet.example.com" },
			want:   ReasonUnauthorizedOrigin,
		},
		{
			desc:   "wrong token",
			mutate: func(r *Request) { r.Token = "guess" },
			want:   ReasonInvalidAuthentication,
		},
		{
			desc:   "empty token",
			mutate: func(r *Request) { r.Token = "" },
			want:   ReasonInvalidAuthentication,
		},
		{
			desc:   "missing payload",
			mutate: func(r *Request) { r.Payload = nil },
			want:   ReasonMissingPayload,
		},
		{
			desc:   "oversized payload",
			mutate: func(r *Request) { r.Payload = []byte(strings.Repeat("A", 1400)) },
			want:   ReasonPayloadTooLarge,
		},
		{
			desc:   "transport truncated payload",
			mutate: func(r *Request) { r.Oversize = true },
			want:   ReasonPayloadTooLarge,
		},
		{
			desc:   "bad origin wins over bad token",
			mutate: func(r *Request) { r.Origin = "https://evil.example.net"; r.Token = "" },
			want:   ReasonUnauthorizedOrigin,
		},
		{
			desc:   "bad token wins over missing payload",
			mutate: func(r *Request) { r.Token = "nope"; r.Payload = nil },
			want:   ReasonInvalidAuthentication,
		},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxPayloadBytes = 1024
			g, log := newTestGuard(t, cfg, newFakeClock())

			req := validRequest("9.9.9.9")
			ts.mutate(&req)

			got, err := g.Evaluate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, ts.want, got.Reason)
			assert.Equal(t, ts.want == ReasonNone, got.Admitted)

			if ts.want == ReasonNone {
				assert.Len(t, log.Entries("9.9.9.9"), 1)
			} else {
				assert.Empty(t, log.Entries("9.9.9.9"), "rejected requests must not be recorded")
			}
		})
	}
}

func TestGuard_PayloadLimitBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadBytes = 300
	g, _ := newTestGuard(t, cfg, newFakeClock())
	ctx := context.Background()

	fits := validRequest("5.5.5.5")
	fits.Payload = []byte(strings.Repeat("A", 400)) // 400 * 0.75 = 300
	got, err := g.Evaluate(ctx, fits)
	require.NoError(t, err)
	assert.True(t, got.Admitted)

	over := validRequest("6.6.6.6")
	over.Payload = []byte(strings.Repeat("A", 401))
	got, err = g.Evaluate(ctx, over)
	require.NoError(t, err)
	assert.Equal(t, ReasonPayloadTooLarge, got.Reason)

	assert.EqualValues(t, 400, EncodedLimit(300))
	assert.EqualValues(t, 300, EstimateDecodedSize(400))
}

func TestGuard_RateLimitedBeforeAuthentication(t *testing.T) {
	clock := newFakeClock()
	g, _ := newTestGuard(t, testConfig(), clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Evaluate(ctx, validRequest("7.7.7.7"))
		require.NoError(t, err)
	}

	req := validRequest("7.7.7.7")
	req.Token = "wrong"
	got, err := g.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, got.Reason)
	assert.ErrorIs(t, got.Err(), ErrRateLimited)
}

func TestGuard_FailedRequestsDoNotConsumeBudget(t *testing.T) {
	clock := newFakeClock()
	g, _ := newTestGuard(t, testConfig(), clock)
	ctx := context.Background()

	bad := validRequest("8.8.8.8")
	bad.Token = "wrong"
	for i := 0; i < 5; i++ {
		got, err := g.Evaluate(ctx, bad)
		require.NoError(t, err)
		require.Equal(t, ReasonInvalidAuthentication, got.Reason)
	}

	got, err := g.Evaluate(ctx, validRequest("8.8.8.8"))
	require.NoError(t, err)
	assert.True(t, got.Admitted)
}

func TestGuard_ConcurrentRequestsCannotOvershoot(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxRequestsPerMinute = 5
	g, log := newTestGuard(t, cfg, clock)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.Evaluate(context.Background(), validRequest("3.3.3.3"))
			if err == nil && got.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, admitted.Load())
	assert.Len(t, log.Entries("3.3.3.3"), 5)
}

func TestGuard_Authorize(t *testing.T) {
	clock := newFakeClock()
	g, log := newTestGuard(t, testConfig(), clock)

	req := validRequest("4.4.4.4")
	req.Payload = nil
	assert.Equal(t, Admit(), g.Authorize(req))

	req.Token = "wrong"
	assert.Equal(t, Reject(ReasonInvalidAuthentication), g.Authorize(req))

	req.Origin = "https://elsewhere.example.org"
	assert.Equal(t, Reject(ReasonUnauthorizedOrigin), g.Authorize(req))

	assert.Empty(t, log.Entries("4.4.4.4"))
}

type failingLog struct{}

func (failingLog) Admit(context.Context, string, time.Time, []Window, bool) (bool, error) {
	return false, errors.New("connection refused")
}

func TestGuard_LogFailureIsDownstreamFailure(t *testing.T) {
	g, err := New(testConfig(), failingLog{})
	require.NoError(t, err)

	got, err := g.Evaluate(context.Background(), validRequest("1.2.3.4"))
	require.Error(t, err)
	assert.Equal(t, ReasonDownstreamFailure, got.Reason)
	assert.False(t, got.Admitted)
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SharedSecret = "  "
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxRequestsPerMinute = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxPayloadBytes = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)

	g, err := New(testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, []Window{{Span: time.Minute, Limit: 2}, {Span: time.Hour, Limit: 10}}, g.Windows())
}

func TestNew_PayloadLimitBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadBytes = math.MaxInt64 / 2
	_, err := New(cfg, nil)
	assert.Error(t, err, "limits whose encoded length overflows are refused")

	cfg = testConfig()
	cfg.MaxPayloadBytes = MaxPayloadLimit
	g, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Greater(t, EncodedLimit(MaxPayloadLimit), int64(MaxPayloadLimit))

	got, err := g.Evaluate(context.Background(), validRequest("1.2.3.4"))
	require.NoError(t, err)
	assert.True(t, got.Admitted)
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonPayloadTooLarge, ReasonOf(ErrPayloadTooLarge))
	assert.Equal(t, ReasonNone, ReasonOf(errors.New("other")))
	assert.True(t, IsRateLimited(Reject(ReasonRateLimited).Err()))
	assert.NoError(t, Admit().Err())
	assert.Equal(t, "admitted", ReasonNone.String())
}
