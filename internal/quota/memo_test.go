package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMemo(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewLocalMemo(time.Minute, clock)

	k1 := NewUsageKey("maps", "details", "2026-03-01", "")
	k2 := NewUsageKey("maps", "search", "2026-03-01", "u1")
	k3 := NewUsageKey("maps", "details", "2026-02-01", "")
	k4 := NewUsageKey("openai", "chat", "2026-03-01", "")

	_, ok := m.Get(ctx, k1)
	assert.False(t, ok)

	m.Set(ctx, k1, 5)
	m.Set(ctx, k2, 1)
	m.Set(ctx, k3, 9)
	m.Set(ctx, k4, 2)
	assert.Equal(t, 4, m.Len())

	n, ok := m.Get(ctx, k1)
	require.True(t, ok)
	assert.Equal(t, int64(5), n)

	m.Set(ctx, k1, 4)
	n, _ = m.Get(ctx, k1)
	assert.Equal(t, int64(5), n, "a stale lower count does not replace a fresh higher one")

	m.Evict(ctx, "maps", "2026-03-01")
	_, ok = m.Get(ctx, k1)
	assert.False(t, ok)
	_, ok = m.Get(ctx, k2)
	assert.False(t, ok)
	_, ok = m.Get(ctx, k4)
	assert.True(t, ok)

	m.EvictBefore(ctx, "2026-03-01")
	_, ok = m.Get(ctx, k3)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestLocalMemo_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewLocalMemo(time.Minute, clock)
	k := NewUsageKey("maps", "details", "2026-03-01", "")

	m.Set(ctx, k, 7)
	clock.Advance(61 * time.Second)
	_, ok := m.Get(ctx, k)
	assert.False(t, ok)

	m.Set(ctx, k, 0)
	n, ok := m.Get(ctx, k)
	require.True(t, ok)
	assert.Zero(t, n)
}

func TestUsageKey(t *testing.T) {
	k := NewUsageKey("maps", "details", "2026-03-01", "")
	assert.Equal(t, GlobalUserID, k.UserID)
	assert.NotEqual(t, NewUsageKey("a", "bc", "d", "").String(), NewUsageKey("ab", "c", "d", "").String())
}

func TestRedisMemo(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewRedisMemo(client, "test", nil)
	today := DateOf(time.Now())
	k := NewUsageKey("maps", "details", today, "u1")

	_, ok := m.Get(ctx, k)
	assert.False(t, ok)

	m.Set(ctx, k, 12)
	n, ok := m.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, int64(12), n)

	hk := "test:quota:maps:" + today
	assert.True(t, mr.Exists(hk))
	assert.Positive(t, mr.TTL(hk))
	assert.LessOrEqual(t, mr.TTL(hk), 24*time.Hour)

	m.Evict(ctx, "maps", today)
	assert.False(t, mr.Exists(hk))
	_, ok = m.Get(ctx, k)
	assert.False(t, ok)

	m.EvictBefore(ctx, today)
}

func TestRedisMemo_UnavailableIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	m := NewRedisMemo(client, "", nil)
	mr.Close()

	ctx := context.Background()
	k := NewUsageKey("maps", "details", "2026-03-01", "")
	m.Set(ctx, k, 1)
	_, ok := m.Get(ctx, k)
	assert.False(t, ok)
}
