package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer store.Close()

	db := store.SQLiteDB()

	// Counter table shaped like the quota store: one row per key, incremented in place.
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_counters (k TEXT PRIMARY KEY, n INTEGER NOT NULL)`)
	require.NoError(t, err)

	const goroutines = 10
	const incrementsPerGoroutine = 50

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*incrementsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", id%2)
			for j := 0; j < incrementsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx,
					`INSERT INTO test_counters (k, n) VALUES (?, 1) ON CONFLICT(k) DO UPDATE SET n = n + 1`, key)
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d increment %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var total int
	require.NoError(t, db.QueryRow("SELECT SUM(n) FROM test_counters").Scan(&total))
	assert.Equal(t, goroutines*incrementsPerGoroutine, total, "no increment may be lost")
}

func TestSQLiteMemory(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, TypeSQLite, store.Type())
	assert.Nil(t, store.PostgreSQLPool())
	assert.Nil(t, store.MongoDatabase())

	db := store.SQLiteDB()
	_, err = db.Exec(`CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNew(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		cfg := Config{SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "quota.db")}}

		store, err := New(context.Background(), cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, TypeSQLite, store.Type())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(context.Background(), Config{Type: "cassandra"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown storage type")
	})

	t.Run("postgresql requires url", func(t *testing.T) {
		_, err := New(context.Background(), Config{Type: TypePostgreSQL})
		require.Error(t, err)
	})

	t.Run("mongodb requires url", func(t *testing.T) {
		_, err := New(context.Background(), Config{Type: TypeMongoDB})
		require.Error(t, err)
	})
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, TypeSQLite, cfg.Type)
	assert.Equal(t, ".cache/tripcache.db", cfg.SQLite.Path)
	assert.Equal(t, "tripcache", cfg.MongoDB.Database)
	assert.Equal(t, 10, cfg.PostgreSQL.MaxConns)

	custom := Config{
		Type:       TypePostgreSQL,
		PostgreSQL: PostgreSQLConfig{URL: "postgres://db", MaxConns: 3},
	}.WithDefaults()
	assert.Equal(t, TypePostgreSQL, custom.Type)
	assert.Equal(t, 3, custom.PostgreSQL.MaxConns)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(MemoryPath))

	dsn := sqliteDSN("data/quota.db")
	assert.True(t, strings.HasPrefix(dsn, "file:data/quota.db?"))
	assert.Contains(t, dsn, "_pragma=journal_mode%28WAL%29")
	assert.Contains(t, dsn, "_pragma=busy_timeout%285000%29")
}

func TestSQLiteFilePragmas(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "quota.db")})
	require.NoError(t, err)
	defer store.Close()

	var mode string
	require.NoError(t, store.SQLiteDB().QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}
