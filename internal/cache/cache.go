// Package cache provides the durable, TTL-based cache that sits in front of
// metered external APIs (places, geocoding, photos).
//
// Caching is best-effort: every Store method degrades to "miss" or "write
// silently dropped" on I/O failure and logs the cause. A failing cache must
// never fail the feature it accelerates.
package cache

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Partition is a named subdivision of the cache with its own default TTL.
type Partition string

const (
	PartitionPlaces   Partition = "places"
	PartitionImages   Partition = "images"
	PartitionSearches Partition = "searches"

	// PartitionDefault only names the fallback TTL; nothing is stored under it.
	PartitionDefault Partition = "default"
)

// StoragePartitions lists the partitions that hold entries, in scan order.
var StoragePartitions = []Partition{PartitionPlaces, PartitionImages, PartitionSearches}

func (p Partition) orDefault() Partition {
	if p == "" {
		return PartitionPlaces
	}
	return p
}

func (p Partition) stored() bool {
	for _, sp := range StoragePartitions {
		if p == sp {
			return true
		}
	}
	return false
}

// SetOptions controls how an entry is written.
type SetOptions struct {
	// Partition defaults to places
	Partition Partition

	// TTL defaults to the partition's configured TTL when zero or negative
	TTL time.Duration
}

// Store is the contract of every cache backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the payload stored for key. Missing, unreadable and expired
	// entries are all reported as a miss; expired entries are removed.
	Get(ctx context.Context, key string, partition Partition) (json.RawMessage, bool)

	// Set stores data as JSON. Failures are logged, never returned.
	Set(ctx context.Context, key string, data any, opts SetOptions)

	// GetBinary returns a blob previously stored with SetBinary. The metadata
	// and the blob must both be present and unexpired.
	GetBinary(ctx context.Context, key, ext string) ([]byte, bool)

	// SetBinary stores a blob and its metadata in the images partition.
	SetBinary(ctx context.Context, key string, data []byte, ext string, ttl time.Duration)

	// ClearExpired deletes every expired entry and returns how many were removed.
	// Entries that cannot be parsed are left alone.
	ClearExpired(ctx context.Context) (int, error)

	// Stats reports entry counts and sizes per partition.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// PartitionStats holds the size of one partition.
type PartitionStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Stats aggregates PartitionStats over the whole cache.
type Stats struct {
	Partitions map[Partition]PartitionStats `json:"partitions"`
	TotalFiles int                          `json:"total_files"`
	TotalBytes int64                        `json:"total_bytes"`
}

func (s *Stats) add(p Partition, files int, bytes int64) {
	if s.Partitions == nil {
		s.Partitions = make(map[Partition]PartitionStats)
	}
	ps := s.Partitions[p]
	ps.Files += files
	ps.Bytes += bytes
	s.Partitions[p] = ps
	s.TotalFiles += files
	s.TotalBytes += bytes
}

// GetJSON decodes a hit into T. A payload that does not decode is a miss.
func GetJSON[T any](ctx context.Context, s Store, key string, partition Partition) (T, bool) {
	var v T
	raw, ok := s.Get(ctx, key, partition)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// entry is the on-disk and in-Redis envelope of a JSON cache entry.
// Times are epoch milliseconds.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
}

// binaryMeta is the sidecar record of a binary entry.
type binaryMeta struct {
	Size      int    `json:"size"`
	Extension string `json:"extension"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
}

// expired reports whether an envelope with the given expiry is stale at now.
func expired(expiresAt int64, now time.Time) bool {
	return now.UnixMilli() > expiresAt
}

// parseEntry decodes an envelope. Envelopes without an expiry were not
// written by this package and count as corrupt.
func parseEntry(b []byte) (entry, bool) {
	var e entry
	if err := json.Unmarshal(b, &e); err != nil || e.ExpiresAt == 0 {
		return entry{}, false
	}
	return e, true
}

func parseMeta(b []byte) (binaryMeta, bool) {
	var m binaryMeta
	if err := json.Unmarshal(b, &m); err != nil || m.ExpiresAt == 0 || m.Extension == "" {
		return binaryMeta{}, false
	}
	return m, true
}

var (
	keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	extPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)
)

func validKey(key string) bool {
	return keyPattern.MatchString(key)
}

func normalizeExt(ext string) (string, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext, extPattern.MatchString(ext)
}
