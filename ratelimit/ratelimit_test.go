package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nightlife-social/livechat/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewMemoryLimiterWithClock(clock.Now)
	p := Policy{MaxMessages: 5, Window: 5000 * time.Millisecond}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r, err := l.Reserve(ctx, "u1", p)
		require.NoError(t, err)
		assert.True(t, r.Allowed, "send %d", i+1)
	}
	r, err := l.Reserve(ctx, "u1", p)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 5*time.Second, r.RetryAfter)
	assert.Equal(t, 5, l.Len("u1"))

	clock.Advance(4999 * time.Millisecond)
	r, err = l.Reserve(ctx, "u1", p)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, time.Millisecond, r.RetryAfter)

	clock.Advance(time.Millisecond)
	r, err = l.Reserve(ctx, "u1", p)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, l.Len("u1"))
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewMemoryLimiterWithClock(clock.Now)
	p := Policy{MaxMessages: 1, Window: time.Second}

	r, _ := l.Reserve(context.Background(), "a", p)
	assert.True(t, r.Allowed)
	r, _ = l.Reserve(context.Background(), "b", p)
	assert.True(t, r.Allowed)
	r, _ = l.Reserve(context.Background(), "a", p)
	assert.False(t, r.Allowed)
}

func TestMemoryLimiterCancel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewMemoryLimiterWithClock(clock.Now)
	p := Policy{MaxMessages: 2, Window: time.Second}
	ctx := context.Background()

	first, _ := l.Reserve(ctx, "u", p)
	clock.Advance(time.Millisecond)
	second, _ := l.Reserve(ctx, "u", p)
	require.True(t, second.Allowed)
	second.Cancel()
	second.Cancel()
	assert.Equal(t, 1, l.Len("u"))

	r, _ := l.Reserve(ctx, "u", p)
	assert.True(t, r.Allowed)
	r, _ = l.Reserve(ctx, "u", p)
	assert.False(t, r.Allowed)
	r.Cancel()
	first.Cancel()
	assert.Equal(t, 1, l.Len("u"))
}

func TestMemoryLimiterConcurrentReserve(t *testing.T) {
	l := NewMemoryLimiter()
	p := Policy{MaxMessages: 5, Window: time.Minute}
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Reserve(context.Background(), "u", p)
			if err == nil && r.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestMemoryLimiterSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewMemoryLimiterWithClock(clock.Now)
	p := Policy{MaxMessages: 5, Window: time.Second}
	for i := 0; i < 3; i++ {
		_, _ = l.Reserve(context.Background(), fmt.Sprintf("u%d", i), p)
	}
	clock.Advance(2 * time.Second)
	l.Sweep()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.windows)
}

func TestPoliciesForRole(t *testing.T) {
	p := DefaultPolicies()
	assert.Equal(t, 5, p.ForRole(types.RoleUser).MaxMessages)
	assert.Equal(t, 10, p.ForRole(types.RoleDJ).MaxMessages)
	assert.Equal(t, 20, p.ForRole(types.RoleAdmin).MaxMessages)
	assert.Equal(t, 5, p.ForRole("").MaxMessages)
}

func TestRedisLimiter(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	prefix := fmt.Sprintf("test:livechat:%d:", time.Now().UnixNano())
	l := NewRedisLimiter(client, prefix)
	defer l.Close()
	defer client.Del(ctx, prefix+"u", prefix+"u:counter")

	p := Policy{MaxMessages: 3, Window: time.Minute}
	var last *Reservation
	for i := 0; i < 3; i++ {
		r, err := l.Reserve(ctx, "u", p)
		require.NoError(t, err)
		assert.True(t, r.Allowed)
		last = r
	}
	r, err := l.Reserve(ctx, "u", p)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))

	last.Cancel()
	r, err = l.Reserve(ctx, "u", p)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}
