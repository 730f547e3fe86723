package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWindows = []Window{
	{Span: time.Minute, Limit: 2},
	{Span: time.Hour, Limit: 10},
}

func TestMemoryLog_SweepDropsIdleIdentities(t *testing.T) {
	log := NewMemoryLog(time.Hour)
	ctx := context.Background()
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	_, err := log.Admit(ctx, "old", now, testWindows, true)
	require.NoError(t, err)
	_, err = log.Admit(ctx, "fresh", now.Add(30*time.Minute), testWindows, true)
	require.NoError(t, err)
	require.Equal(t, 2, log.Len())

	removed := log.Sweep(now.Add(time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, log.Len())
	assert.Empty(t, log.Entries("old"))
	assert.Len(t, log.Entries("fresh"), 1)
}

func TestMemoryLog_CheckWithoutCommit(t *testing.T) {
	log := NewMemoryLog(time.Hour)
	ctx := context.Background()
	now := time.Now()

	room, err := log.Admit(ctx, "probe", now, testWindows, false)
	require.NoError(t, err)
	assert.True(t, room)
	assert.Equal(t, 0, log.Len(), "a probe without commit must not create an entry")
}

func TestLogs_SlidingWindow(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	backends := map[string]Log{
		"memory": NewMemoryLog(time.Hour),
		"redis":  NewRedisLog(client, WithKeyPrefix("test:guard:")),
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
			at := func(d time.Duration) time.Time { return start.Add(d) }

			steps := []struct {
				at   time.Duration
				want bool
			}{
				{0, true},
				{10 * time.Second, true},
				{20 * time.Second, false},
				{59 * time.Second, false},
				{60 * time.Second, true},
				{65 * time.Second, false},
				{71 * time.Second, true},
			}
			for _, step := range steps {
				got, err := backend.Admit(ctx, "1.2.3.4", at(step.at), testWindows, true)
				require.NoError(t, err)
				assert.Equal(t, step.want, got, "at t=%s", step.at)
			}
		})
	}
}

func TestRedisLog_PrunesAndExpires(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	log := NewRedisLog(client)
	ctx := context.Background()
	start := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, err := log.Admit(ctx, "5.6.7.8", start.Add(time.Duration(i)*2*time.Minute), testWindows, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := log.Count(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ok, err := log.Admit(ctx, "5.6.7.8", start.Add(2*time.Hour), testWindows, false)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = log.Count(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "entries older than an hour are pruned on evaluation")

	_, err = log.Admit(ctx, "5.6.7.8", start, testWindows, true)
	require.NoError(t, err)
	assert.True(t, server.Exists("outfit:guard:5.6.7.8"))
	server.FastForward(time.Hour)
	assert.False(t, server.Exists("outfit:guard:5.6.7.8"))
}

func TestRedisLog_WorksBehindGuard(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	clock := newFakeClock()
	g, err := New(testConfig(), NewRedisLog(client), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := g.Evaluate(ctx, validRequest("1.2.3.4"))
		require.NoError(t, err)
		require.True(t, got.Admitted)
	}
	got, err := g.Evaluate(ctx, validRequest("1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, got.Reason)
}

func TestRedisLog_BackendDown(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer client.Close()
	server.Close()

	_, err = NewRedisLog(client).Admit(context.Background(), "1.2.3.4", time.Now(), testWindows, true)
	assert.Error(t, err)
}
