package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Provider string `json:"provider"`
	Tokens   int64  `json:"tokens"`
}

func TestCache_GetOrLoad(t *testing.T) {
	client, mr := newTestClient(t)
	c := NewCache(client)
	ctx := context.Background()
	key := BuildCacheKey("usage", "summary", "all")

	var calls int32
	loader := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return []summary{{Provider: "openai", Tokens: 42}}, nil
	}

	var first []summary
	require.NoError(t, c.GetOrLoad(ctx, key, time.Minute, &first, loader))
	assert.Equal(t, []summary{{Provider: "openai", Tokens: 42}}, first)
	assert.True(t, mr.Exists(key))

	var second []summary
	require.NoError(t, c.GetOrLoad(ctx, key, time.Minute, &second, loader))
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	mr.FastForward(2 * time.Minute)
	var third []summary
	require.NoError(t, c.GetOrLoad(ctx, key, time.Minute, &third, loader))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCache_GetOrLoadConcurrentMissLoadsOnce(t *testing.T) {
	client, _ := newTestClient(t)
	c := NewCache(client)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return summary{Provider: "deepseek"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out summary
			assert.NoError(t, c.GetOrLoad(ctx, "cache:k", time.Minute, &out, loader))
			assert.Equal(t, "deepseek", out.Provider)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestCache_LoaderError(t *testing.T) {
	client, mr := newTestClient(t)
	c := NewCache(client)

	var out summary
	err := c.GetOrLoad(context.Background(), "cache:err", time.Minute, &out, func(context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
	assert.False(t, mr.Exists("cache:err"))
}

func TestCache_Delete(t *testing.T) {
	client, mr := newTestClient(t)
	c := NewCache(client)
	require.NoError(t, mr.Set("cache:a", "1"))

	require.NoError(t, c.Delete(context.Background(), "cache:a"))
	assert.False(t, mr.Exists("cache:a"))
}

func TestClient_HealthCheck(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))
}
