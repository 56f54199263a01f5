package quota

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// UsageMemo is a read-through cache of usage counters. It is advisory: the
// tracker consults it for reads and always re-reads the Store before it
// increments a counter.
type UsageMemo interface {
	Get(ctx context.Context, key UsageKey) (int64, bool)
	Set(ctx context.Context, key UsageKey, count int64)

	// Evict drops every entry of service on date.
	Evict(ctx context.Context, service, date string)

	// EvictBefore drops every entry dated strictly before date.
	EvictBefore(ctx context.Context, date string)
}

const (
	localMemoShards = 16

	// DefaultMemoTTL bounds how long a LocalMemo serves a counter without
	// re-reading the store, so changes made by other processes show up.
	DefaultMemoTTL = time.Minute
)

type memoEntry struct {
	count   int64
	expires time.Time
}

type memoShard struct {
	mu sync.RWMutex
	m  map[UsageKey]memoEntry
}

// LocalMemo is a process-local UsageMemo. Entries of one service and day
// share a shard so eviction touches a single lock.
type LocalMemo struct {
	shards [localMemoShards]memoShard
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewLocalMemo creates an empty LocalMemo whose entries live for ttl
// (DefaultMemoTTL when ttl <= 0).
func NewLocalMemo(ttl time.Duration, clock clockwork.Clock) *LocalMemo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &LocalMemo{ttl: ttl, clock: clock}
	for i := range m.shards {
		m.shards[i].m = make(map[UsageKey]memoEntry)
	}
	return m
}

func (m *LocalMemo) shard(service, date string) *memoShard {
	h := xxhash.Sum64String(service + "\x1f" + date)
	return &m.shards[h%localMemoShards]
}

// Get implements UsageMemo.
func (m *LocalMemo) Get(_ context.Context, key UsageKey) (int64, bool) {
	s := m.shard(key.Service, key.Date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	if !ok || m.clock.Now().After(e.expires) {
		return 0, false
	}
	return e.count, true
}

// Set implements UsageMemo. While an entry is fresh a lower count never
// replaces a higher one, since counters only grow within a day.
func (m *LocalMemo) Set(_ context.Context, key UsageKey, count int64) {
	now := m.clock.Now()
	s := m.shard(key.Service, key.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok && !now.After(cur.expires) && cur.count > count {
		return
	}
	s.m[key] = memoEntry{count: count, expires: now.Add(m.ttl)}
}

// Evict implements UsageMemo.
func (m *LocalMemo) Evict(_ context.Context, service, date string) {
	s := m.shard(service, date)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.m {
		if k.Service == service && k.Date == date {
			delete(s.m, k)
		}
	}
}

// EvictBefore implements UsageMemo.
func (m *LocalMemo) EvictBefore(_ context.Context, date string) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k := range s.m {
			if k.Date < date {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of memoized counters.
func (m *LocalMemo) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// RedisMemo shares memoized counters between instances. Each service and day
// is one hash that expires at the end of that UTC day.
type RedisMemo struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisMemo creates a memo on a shared client. An empty prefix defaults to "tripcache".
func NewRedisMemo(client *redis.Client, prefix string, logger *slog.Logger) *RedisMemo {
	if prefix == "" {
		prefix = "tripcache"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMemo{client: client, prefix: prefix, logger: logger}
}

func (m *RedisMemo) hashKey(service, date string) string {
	return m.prefix + ":quota:" + service + ":" + date
}

func memoField(key UsageKey) string {
	return key.Endpoint + "\x1f" + key.UserID
}

// Get implements UsageMemo.
func (m *RedisMemo) Get(ctx context.Context, key UsageKey) (int64, bool) {
	v, err := m.client.HGet(ctx, m.hashKey(key.Service, key.Date), memoField(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.Debug("quota memo read failed", "service", key.Service, "error", err)
		}
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set implements UsageMemo.
func (m *RedisMemo) Set(ctx context.Context, key UsageKey, count int64) {
	hk := m.hashKey(key.Service, key.Date)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hk, memoField(key), count)
		if day, err := time.Parse(DateLayout, key.Date); err == nil {
			pipe.ExpireAt(ctx, hk, day.AddDate(0, 0, 1))
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("quota memo write failed", "service", key.Service, "error", err)
	}
}

// Evict implements UsageMemo.
func (m *RedisMemo) Evict(ctx context.Context, service, date string) {
	if err := m.client.Del(ctx, m.hashKey(service, date)).Err(); err != nil {
		m.logger.Warn("quota memo eviction failed", "service", service, "date", date, "error", err)
	}
}

// EvictBefore is a no-op: Redis expires past days on its own.
func (m *RedisMemo) EvictBefore(context.Context, string) {}
