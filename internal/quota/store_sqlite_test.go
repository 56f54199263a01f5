package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcache/internal/storage"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.NewSQLite(storage.SQLiteConfig{Path: storage.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s, err := NewSQLiteStore(st.SQLiteDB())
	require.NoError(t, err)
	return s
}

func TestSQLiteStore_Config(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfig(ctx, "maps")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg, err := s.CreateConfigIfAbsent(ctx, ServiceConfig{Service: "maps", DailyLimit: 50, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, ServiceConfig{Service: "maps", DailyLimit: 50, Enabled: true}, cfg)

	cfg, err = s.CreateConfigIfAbsent(ctx, ServiceConfig{Service: "maps", DailyLimit: 9, Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.DailyLimit, "existing config wins")

	require.NoError(t, s.SaveConfig(ctx, ServiceConfig{Service: "maps", DailyLimit: 7, Enabled: false}))
	cfg, ok, err = s.GetConfig(ctx, "maps")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ServiceConfig{Service: "maps", DailyLimit: 7, Enabled: false}, cfg)
}

func TestSQLiteStore_Usage(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	k := NewUsageKey("maps", "details", "2026-03-01", "")
	n, err := s.GetUsage(ctx, k)
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrementUsage(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	other := NewUsageKey("maps", "details", "2026-03-01", "u1")
	_, err = s.IncrementUsage(ctx, other)
	require.NoError(t, err)
	old := NewUsageKey("maps", "details", "2026-01-01", "")
	_, err = s.IncrementUsage(ctx, old)
	require.NoError(t, err)

	n, err = s.GetUsage(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	deleted, err := s.DeleteUsageBefore(ctx, "2026-02-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = s.DeleteUsage(ctx, "maps", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err = s.GetUsage(ctx, k)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_ConcurrentIncrements(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	k := NewUsageKey("maps", "details", "2026-03-01", "")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, k)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.GetUsage(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), n)
}

func newMockSQLiteStore(t *testing.T, opts ...StoreOption) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS api_usage").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_api_usage_date").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS api_config").WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewSQLiteStore(db, opts...)
	require.NoError(t, err)
	return s, mock
}

func TestSQLiteStore_StampsWithInjectedClock(t *testing.T) {
	s, mock := newMockSQLiteStore(t, WithClock(clockwork.NewFakeClockAt(trackerStart)))
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO api_usage").
		WithArgs(sqlmock.AnyArg(), "maps", "details", "2026-03-01", GlobalUserID, trackerStart).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	n, err := s.IncrementUsage(ctx, NewUsageKey("maps", "details", "2026-03-01", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("INSERT INTO api_config").
		WithArgs("maps", int64(5), true, trackerStart).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SaveConfig(ctx, ServiceConfig{Service: "maps", DailyLimit: 5, Enabled: true}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_WrapsErrors(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	ctx := context.Background()
	k := NewUsageKey("maps", "details", "2026-03-01", "")
	diskErr := errors.New("disk I/O error")

	mock.ExpectQuery("INSERT INTO api_usage").WillReturnError(diskErr)
	_, err := s.IncrementUsage(ctx, k)
	assert.ErrorIs(t, err, diskErr)
	assert.ErrorContains(t, err, "failed to increment usage")

	mock.ExpectExec("DELETE FROM api_usage WHERE date").WillReturnError(diskErr)
	_, err = s.DeleteUsageBefore(ctx, "2026-01-01")
	assert.ErrorIs(t, err, diskErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLiteStore_SchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS api_usage").WillReturnError(errors.New("read-only database"))
	_, err = NewSQLiteStore(db)
	assert.ErrorContains(t, err, "failed to create quota schema")

	_, err = NewSQLiteStore(nil)
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	st, err := storage.NewSQLite(storage.SQLiteConfig{Path: storage.MemoryPath})
	require.NoError(t, err)
	defer st.Close()

	s, err := NewStore(context.Background(), st)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = NewStore(context.Background(), nil)
	assert.Error(t, err)
}
