package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_usage (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		date TEXT NOT NULL,
		user_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		UNIQUE (service, endpoint, date, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_date ON api_usage(date)`,
	`CREATE TABLE IF NOT EXISTS api_config (
		service TEXT PRIMARY KEY,
		daily_limit INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL
	)`,
}

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLiteStore creates the quota tables if they don't exist.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create quota schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, clock: applyStoreOptions(opts).clock}, nil
}

// GetConfig implements Store.
func (s *SQLiteStore) GetConfig(ctx context.Context, service string) (ServiceConfig, bool, error) {
	cfg := ServiceConfig{Service: service}
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_limit, enabled FROM api_config WHERE service = ?`, service,
	).Scan(&cfg.DailyLimit, &cfg.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceConfig{}, false, nil
	}
	if err != nil {
		return ServiceConfig{}, false, fmt.Errorf("failed to query config: %w", err)
	}
	return cfg, true, nil
}

// CreateConfigIfAbsent implements Store.
func (s *SQLiteStore) CreateConfigIfAbsent(ctx context.Context, cfg ServiceConfig) (ServiceConfig, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_config (service, daily_limit, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (service) DO NOTHING
	`, cfg.Service, cfg.DailyLimit, cfg.Enabled, s.clock.Now().UTC())
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("failed to insert config: %w", err)
	}

	stored, ok, err := s.GetConfig(ctx, cfg.Service)
	if err != nil {
		return ServiceConfig{}, err
	}
	if !ok {
		return ServiceConfig{}, fmt.Errorf("config for %s vanished after insert", cfg.Service)
	}
	return stored, nil
}

// SaveConfig implements Store.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg ServiceConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_config (service, daily_limit, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			daily_limit = excluded.daily_limit,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, cfg.Service, cfg.DailyLimit, cfg.Enabled, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetUsage implements Store.
func (s *SQLiteStore) GetUsage(ctx context.Context, key UsageKey) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM api_usage
		WHERE service = ? AND endpoint = ? AND date = ? AND user_id = ?
	`, key.Service, key.Endpoint, key.Date, key.UserID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query usage: %w", err)
	}
	return n, nil
}

// IncrementUsage implements Store.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, key UsageKey) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_usage (id, service, endpoint, date, user_id, count, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (service, endpoint, date, user_id) DO UPDATE SET
			count = api_usage.count + 1,
			updated_at = excluded.updated_at
		RETURNING count
	`, uuid.NewString(), key.Service, key.Endpoint, key.Date, key.UserID, s.clock.Now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return n, nil
}

// DeleteUsage implements Store.
func (s *SQLiteStore) DeleteUsage(ctx context.Context, service, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_usage WHERE service = ? AND date = ?`, service, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage: %w", err)
	}
	return res.RowsAffected()
}

// DeleteUsageBefore implements Store.
func (s *SQLiteStore) DeleteUsageBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_usage WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the connection belongs to the shared storage.
func (s *SQLiteStore) Close() error {
	return nil
}
