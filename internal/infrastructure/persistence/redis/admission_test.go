package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/domain/entity"
	"z-content-ai-api/internal/domain/service"
)

func held(id string) context.Context {
	return service.WithAdmissionHold(context.Background(), id)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientWithRedis(rdb), mr
}

func newTestAdmission(t *testing.T) (*WindowAdmission, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	client, mr := newTestClient(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWindowAdmission(client, WithAdmissionClock(clock.Now)), clock, mr
}

func provider(rpm, tpm int) entity.Provider {
	return entity.Provider{
		Name:         "MockProvider",
		Models:       []string{"mock-model"},
		Capabilities: []string{entity.CapabilityTextGeneration},
		RateLimit:    entity.RateLimitPolicy{RequestsPerMinute: rpm, TokensPerMinute: tpm},
	}
}

func TestWindowAdmission_RequestLimit(t *testing.T) {
	a, _, _ := newTestAdmission(t)
	ctx := context.Background()
	p := provider(2, 100000)

	assert.True(t, a.IsAdmissible(ctx, p, 10))
	assert.True(t, a.IsAdmissible(ctx, p, 10))
	assert.False(t, a.IsAdmissible(ctx, p, 10))
}

func TestWindowAdmission_TokenLimit(t *testing.T) {
	a, _, _ := newTestAdmission(t)
	ctx := context.Background()
	p := provider(100, 1000)

	assert.True(t, a.IsAdmissible(ctx, p, 600))
	assert.False(t, a.IsAdmissible(ctx, p, 401))
	assert.True(t, a.IsAdmissible(ctx, p, 400))
}

func TestWindowAdmission_RecordReplacesHold(t *testing.T) {
	a, _, mr := newTestAdmission(t)
	ctx := held("req-1")
	p := provider(100, 1000)

	require.True(t, a.IsAdmissible(ctx, p, 900))
	a.Record(ctx, p, 50)

	assert.False(t, mr.Exists(BuildAdmissionKey(p.Name, "hold")))
	req, err := mr.ZMembers(BuildAdmissionKey(p.Name, "req"))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-1"}, req)

	// 50 已占用，剩余 950
	assert.True(t, a.IsAdmissible(held("req-2"), p, 950))
	assert.False(t, a.IsAdmissible(held("req-3"), p, 1))
}

func TestWindowAdmission_OutOfOrderCompletionKeepsInFlightHold(t *testing.T) {
	a, _, mr := newTestAdmission(t)
	p := provider(10, 1000)

	require.True(t, a.IsAdmissible(held("long"), p, 900))
	require.True(t, a.IsAdmissible(held("short"), p, 100))

	// 后发的小请求先完成，长请求的 900 仍在占用
	a.Record(held("short"), p, 80)
	holds, err := mr.ZMembers(BuildAdmissionKey(p.Name, "hold"))
	require.NoError(t, err)
	assert.Equal(t, []string{"long:900"}, holds)
	assert.False(t, a.IsAdmissible(held("next"), p, 800))
	require.True(t, a.IsAdmissible(held("small"), p, 20))

	a.Record(held("long"), p, 300)
	holds, err = mr.ZMembers(BuildAdmissionKey(p.Name, "hold"))
	require.NoError(t, err)
	assert.Equal(t, []string{"small:20"}, holds)

	// 80 + 20 + 300 = 400
	assert.True(t, a.IsAdmissible(held("x"), p, 600))
	assert.False(t, a.IsAdmissible(held("y"), p, 1))
}

func TestWindowAdmission_RecordWithoutHoldIDKeepsPending(t *testing.T) {
	a, _, mr := newTestAdmission(t)
	p := provider(10, 1000)

	require.True(t, a.IsAdmissible(held("a"), p, 500))
	a.Record(context.Background(), p, 100)
	a.Record(held("unknown"), p, 100)

	holds, err := mr.ZMembers(BuildAdmissionKey(p.Name, "hold"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:500"}, holds)
	assert.False(t, a.IsAdmissible(held("b"), p, 301))
}

func TestWindowAdmission_WindowSlides(t *testing.T) {
	a, clock, _ := newTestAdmission(t)
	ctx := held("req-1")
	p := provider(1, 1000)

	require.True(t, a.IsAdmissible(ctx, p, 100))
	a.Record(ctx, p, 100)
	assert.False(t, a.IsAdmissible(ctx, p, 100))

	clock.Advance(59 * time.Second)
	assert.False(t, a.IsAdmissible(ctx, p, 100))

	clock.Advance(time.Second)
	assert.True(t, a.IsAdmissible(ctx, p, 100))
}

func TestWindowAdmission_UnreconciledHoldExpires(t *testing.T) {
	a, clock, _ := newTestAdmission(t)
	ctx := context.Background()
	p := provider(1, 1000)

	require.True(t, a.IsAdmissible(ctx, p, 100))
	assert.False(t, a.IsAdmissible(ctx, p, 100))

	clock.Advance(DefaultAdmissionWindow + time.Millisecond)
	assert.True(t, a.IsAdmissible(ctx, p, 100))
}

func TestWindowAdmission_ProvidersIndependent(t *testing.T) {
	a, _, _ := newTestAdmission(t)
	ctx := context.Background()
	p1 := provider(1, 1000)
	p2 := provider(1, 1000)
	p2.Name = "Backup"

	assert.True(t, a.IsAdmissible(ctx, p1, 10))
	assert.True(t, a.IsAdmissible(ctx, p2, 10))
	assert.False(t, a.IsAdmissible(ctx, p1, 10))
}

func TestWindowAdmission_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	a, _, _ := newTestAdmission(t)
	ctx := context.Background()
	const n = 20
	p := provider(100, n*100)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.IsAdmissible(ctx, p, 100) {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), atomic.LoadInt32(&admitted))
}

func TestWindowAdmission_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	a := NewWindowAdmission(NewClientWithRedis(rdb))
	ctx := context.Background()
	p := provider(1, 10)

	assert.True(t, a.IsAdmissible(ctx, p, 1000))
	assert.NotPanics(t, func() { a.Record(ctx, p, 10) })
}

func TestWindowAdmission_Reset(t *testing.T) {
	a, _, _ := newTestAdmission(t)
	ctx := context.Background()
	p := provider(1, 1000)

	require.True(t, a.IsAdmissible(ctx, p, 10))
	require.False(t, a.IsAdmissible(ctx, p, 10))

	require.NoError(t, a.Reset(ctx, p.Name))
	assert.True(t, a.IsAdmissible(ctx, p, 10))
}

func TestBuildAdmissionKey(t *testing.T) {
	assert.Equal(t, "llm:admission:{openai}:tok", BuildAdmissionKey("openai", "tok"))
}
