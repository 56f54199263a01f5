package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	jsonSuffix = ".json"
	metaSuffix = ".meta.json"
)

// FileConfig configures a FileStore.
type FileConfig struct {
	// BaseDir is the cache root; partitions are subdirectories (default ./.cache)
	BaseDir string

	// TTLs defaults to DefaultTTLs()
	TTLs TTLs

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// FileStore implements Store with one file per entry:
//
//	<base>/<partition>/<key>.json           {data, timestamp, expiresAt}
//	<base>/images/<key>.meta.json           {size, extension, timestamp, expiresAt}
//	<base>/images/<key>.<ext>               raw bytes
//
// Writes go through a temp file and a rename so readers never observe a
// partially written entry.
type FileStore struct {
	baseDir string
	ttls    TTLs
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewFileStore creates a file-backed store. Directories are created lazily on first write.
func NewFileStore(cfg FileConfig) *FileStore {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "./.cache"
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
	return &FileStore{
		baseDir: cfg.BaseDir,
		ttls:    cfg.TTLs,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// BaseDir returns the cache root.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

func (s *FileStore) partitionDir(p Partition) string {
	return filepath.Join(s.baseDir, string(p))
}

func (s *FileStore) entryPath(p Partition, key string) string {
	return filepath.Join(s.partitionDir(p), key+jsonSuffix)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string, partition Partition) (json.RawMessage, bool) {
	partition = partition.orDefault()
	if !s.checkTarget(key, partition) {
		return nil, false
	}

	path := s.entryPath(partition, key)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
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
		s.remove(path)
		s.logger.Debug("cache entry expired", "partition", partition, "key", key)
		s.metrics.miss(partition)
		return nil, false
	}

	s.metrics.hit(partition)
	return e.Data, true
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key string, data any, opts SetOptions) {
	partition := opts.Partition.orDefault()
	if !s.checkTarget(key, partition) {
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
	b, err := json.Marshal(entry{
		Data:      payload,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("cache entry encoding failed", "partition", partition, "key", key, "error", err)
		s.metrics.writeFailed(partition)
		return
	}

	if err := writeFileAtomic(s.entryPath(partition, key), b); err != nil {
		s.logger.Warn("cache write failed", "partition", partition, "key", key, "error", err)
		s.metrics.writeFailed(partition)
		return
	}
	s.logger.Debug("cache entry stored", "partition", partition, "key", key, "ttl", ttl)
}

// GetBinary implements Store.
func (s *FileStore) GetBinary(_ context.Context, key, ext string) ([]byte, bool) {
	ext, ok := normalizeExt(ext)
	if !ok || !validKey(key) {
		s.logger.Warn("invalid binary cache key or extension", "key", key, "extension", ext)
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	dir := s.partitionDir(PartitionImages)
	metaPath := filepath.Join(dir, key+metaSuffix)
	blobPath := filepath.Join(dir, key+"."+ext)

	mb, err := os.ReadFile(metaPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("binary cache metadata read failed", "key", key, "error", err)
		}
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	meta, ok := parseMeta(mb)
	if !ok || meta.Extension != ext {
		s.logger.Warn("binary cache metadata is corrupt or mismatched", "key", key, "extension", ext)
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	if expired(meta.ExpiresAt, s.clock.Now()) {
		s.remove(metaPath)
		s.remove(blobPath)
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	blob, err := os.ReadFile(blobPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("binary cache read failed", "key", key, "error", err)
		}
		s.metrics.miss(PartitionImages)
		return nil, false
	}
	if len(blob) != meta.Size {
		s.logger.Warn("binary cache size mismatch, treating as miss",
			"key", key, "expected", meta.Size, "actual", len(blob))
		s.metrics.miss(PartitionImages)
		return nil, false
	}

	s.metrics.hit(PartitionImages)
	return blob, true
}

// SetBinary implements Store. The blob is written before its metadata so a
// reader never sees metadata that points at a missing blob for long.
func (s *FileStore) SetBinary(_ context.Context, key string, data []byte, ext string, ttl time.Duration) {
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
		s.logger.Warn("binary cache metadata encoding failed", "key", key, "error", err)
		s.metrics.writeFailed(PartitionImages)
		return
	}

	dir := s.partitionDir(PartitionImages)
	if err := writeFileAtomic(filepath.Join(dir, key+"."+ext), data); err != nil {
		s.logger.Warn("binary cache write failed", "key", key, "error", err)
		s.metrics.writeFailed(PartitionImages)
		return
	}
	if err := writeFileAtomic(filepath.Join(dir, key+metaSuffix), mb); err != nil {
		s.logger.Warn("binary cache metadata write failed", "key", key, "error", err)
		s.metrics.writeFailed(PartitionImages)
		return
	}
}

// ClearExpired implements Store.
func (s *FileStore) ClearExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0

	for _, p := range StoragePartitions {
		dir := s.partitionDir(p)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("failed to list cache partition %s: %w", p, err)
		}

		for _, de := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			name := de.Name()
			if de.IsDir() || !strings.HasSuffix(name, jsonSuffix) {
				continue
			}
			path := filepath.Join(dir, name)
			b, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("skipping unreadable cache entry", "path", path, "error", err)
				continue
			}

			if strings.HasSuffix(name, metaSuffix) {
				meta, ok := parseMeta(b)
				if !ok || !expired(meta.ExpiresAt, now) {
					continue
				}
				key := strings.TrimSuffix(name, metaSuffix)
				s.remove(filepath.Join(dir, key+"."+meta.Extension))
				if s.remove(path) {
					removed++
				}
				continue
			}

			e, ok := parseEntry(b)
			if !ok || !expired(e.ExpiresAt, now) {
				continue
			}
			if s.remove(path) {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("cleared expired cache entries", "removed", removed)
	}
	return removed, nil
}

// Stats implements Store.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, p := range StoragePartitions {
		stats.add(p, 0, 0)

		entries, err := os.ReadDir(s.partitionDir(p))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return stats, fmt.Errorf("failed to list cache partition %s: %w", p, err)
		}
		for _, de := range entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			stats.add(p, 1, info.Size())
		}
	}
	return stats, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) checkTarget(key string, p Partition) bool {
	if !p.stored() {
		s.logger.Warn("unknown cache partition", "partition", p, "key", key)
		return false
	}
	if !validKey(key) {
		s.logger.Warn("invalid cache key", "partition", p, "key", key)
		return false
	}
	return true
}

// remove deletes path best-effort and reports whether a file was removed.
func (s *FileStore) remove(path string) bool {
	err := os.Remove(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("failed to remove cache file", "path", path, "error", err)
	}
	return false
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
