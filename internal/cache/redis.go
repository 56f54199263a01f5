package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix prefixes every key written by RedisStore.
const DefaultRedisKeyPrefix = "tripcache"

const redisScanCount = 500

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the shared Redis connection; the store does not close it
	Client *redis.Client

	// KeyPrefix defaults to "tripcache"
	KeyPrefix string

	TTLs    TTLs
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// RedisStore implements Store on Redis for deployments with more than one
// instance. Keys are laid out like the file store's paths:
//
//	<prefix>:<partition>:<key>          JSON envelope
//	<prefix>:images:<key>.meta          binary metadata
//	<prefix>:images:<key>.<ext>         raw bytes
//
// Every key carries a native Redis expiry equal to its TTL, so ClearExpired
// usually finds nothing to do.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttls    TTLs
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewRedisStore creates a Redis-backed store on an existing client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.TTLs == nil {
		cfg.TTLs = DefaultTTLs()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisStore{
		client:  cfg.Client,
		prefix:  cfg.KeyPrefix,
		ttls:    cfg.TTLs,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

func (s *RedisStore) key(p Partition, name string) string {
	return s.prefix + ":" + string(p) + ":" + name
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string, partition Partition) (json.RawMessage, bool) {
	partition = partition.orDefault()
	if !partition.stored() || !validKey(key) {
		s.logger.Warn("invalid cache key or partition", "partition", partition, "key", key)
		s.metrics.miss(partition)
		return nil, false
	}

	rk := s.key(partition, key)
	b, err := s.client.Get(ctx, rk).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache read failed", "partition", partition, "key", key, "error", err)
		}
		s.metrics.miss(partition)
		return nil, false
	}

	e, ok := parseEntry(b)
	if !ok {
		s.logger.Warn("cache entry is corrupt, treating as miss", "partition", partition, "key", key)
		s.metrics.miss(partition)
		return nil, false
	}
	if expired(e.ExpiresAt, s.clock.Now()) {
		if err := s.client.Del(ctx, rk).Err(); err != nil {
			s.logger.Debug("failed to delete expired cache entry", "key", rk, "error", err)
		}
		s.metrics.miss(partition)
		return nil, false
	}

	s.metrics.hit(partition)
	return e.Data, true
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, data any, opts SetOptions) {
	partition := opts.Partition.orDefault()
	if !partition.stored() || !validKey(key) {
		s.logger.Warn("invalid cache key or partition", "partition", partition, "key", key)
		s.metrics.writeFailed(partition)
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("cache payload is not serializable", "partition", partition, "key", key, "error", err)
		s.metrics.writeFailed(partition)
		return
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.ttls.For(partition)
	}
	now := s.clock.Now()
	b, err := json.Marshal(entry{Data: payload, Timestamp: now.UnixMilli(), ExpiresAt: now.Add(ttl).UnixMilli()})
	if err != nil {
		s.metrics.writeFailed(partition)
		return
	}

	if err := s.client.Set(ctx, s.key(partition, key), b, ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", "partition", partition, "key", key, "error", err)
		s.metrics.writeFailed(partition)
	}
}

// GetBinary implements Store.
func (s *RedisStore) GetBinary(ctx context.Context, key, ext string) ([]byte, bool) {
	ext, ok := normalizeExt(ext)
	if !ok || !validKey(key) {
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	metaKey := s.key(PartitionImages, key+".meta")
	blobKey := s.key(PartitionImages, key+"."+ext)

	vals, err := s.client.MGet(ctx, metaKey, blobKey).Result()
	if err != nil {
		s.logger.Warn("binary cache read failed", "key", key, "error", err)
		s.metrics.miss(PartitionImages)
		return nil, false
	}
	metaRaw, metaOK := vals[0].(string)
	blobRaw, blobOK := vals[1].(string)
	if !metaOK || !blobOK {
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	meta, ok := parseMeta([]byte(metaRaw))
	if !ok || meta.Extension != ext || meta.Size != len(blobRaw) {
		s.logger.Warn("binary cache metadata is corrupt or mismatched", "key", key)
		s.metrics.miss(PartitionImages)
		return nil, false
	}
	if expired(meta.ExpiresAt, s.clock.Now()) {
		s.client.Del(ctx, metaKey, blobKey)
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	s.metrics.hit(PartitionImages)
	return []byte(blobRaw), true
}

// SetBinary implements Store. Blob and metadata are written in one transaction.
func (s *RedisStore) SetBinary(ctx context.Context, key string, data []byte, ext string, ttl time.Duration) {
	ext, ok := normalizeExt(ext)
	if !ok || !validKey(key) {
		s.logger.Warn("invalid binary cache key or extension", "key", key, "extension", ext)
		s.metrics.writeFailed(PartitionImages)
		return
	}
	if ttl <= 0 {
		ttl = s.ttls.For(PartitionImages)
	}

	now := s.clock.Now()
	mb, err := json.Marshal(binaryMeta{
		Size:      len(data),
		Extension: ext,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		s.metrics.writeFailed(PartitionImages)
		return
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(PartitionImages, key+"."+ext), data, ttl)
		pipe.Set(ctx, s.key(PartitionImages, key+".meta"), mb, ttl)
		return nil
	})
	if err != nil {
		s.logger.Warn("binary cache write failed", "key", key, "error", err)
		s.metrics.writeFailed(PartitionImages)
	}
}

// ClearExpired implements Store. It only inspects envelopes and metadata;
// blobs are removed together with their metadata.
func (s *RedisStore) ClearExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0

	for _, p := range StoragePartitions {
		iter := s.client.Scan(ctx, 0, s.key(p, "*"), redisScanCount).Iterator()
		for iter.Next(ctx) {
			rk := iter.Val()
			name := strings.TrimPrefix(rk, s.key(p, ""))

			if base, ok := strings.CutSuffix(name, ".meta"); ok {
				b, err := s.client.Get(ctx, rk).Bytes()
				if err != nil {
					continue
				}
				meta, ok := parseMeta(b)
				if !ok || !expired(meta.ExpiresAt, now) {
					continue
				}
				n, err := s.client.Del(ctx, rk, s.key(p, base+"."+meta.Extension)).Result()
				if err == nil && n > 0 {
					removed++
				}
				continue
			}
			if strings.Contains(name, ".") {
				// blob
				continue
			}

			b, err := s.client.Get(ctx, rk).Bytes()
			if err != nil {
				continue
			}
			e, ok := parseEntry(b)
			if !ok || !expired(e.ExpiresAt, now) {
				continue
			}
			if n, err := s.client.Del(ctx, rk).Result(); err == nil && n > 0 {
				removed++
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("failed to scan cache partition %s: %w", p, err)
		}
	}
	return removed, nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, p := range StoragePartitions {
		stats.add(p, 0, 0)
		iter := s.client.Scan(ctx, 0, s.key(p, "*"), redisScanCount).Iterator()
		for iter.Next(ctx) {
			n, err := s.client.StrLen(ctx, iter.Val()).Result()
			if err != nil {
				continue
			}
			stats.add(p, 1, n)
		}
		if err := iter.Err(); err != nil {
			return stats, fmt.Errorf("failed to scan cache partition %s: %w", p, err)
		}
	}
	return stats, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}
