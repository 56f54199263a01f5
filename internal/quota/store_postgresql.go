package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_usage (
		id UUID PRIMARY KEY,
		service TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		date TEXT NOT NULL,
		user_id TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (service, endpoint, date, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_date ON api_usage(date)`,
	`CREATE TABLE IF NOT EXISTS api_config (
		service TEXT PRIMARY KEY,
		daily_limit BIGINT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewPostgreSQLStore creates the quota tables if they don't exist.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, opts ...StoreOption) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create quota schema: %w", err)
		}
	}
	return &PostgreSQLStore{pool: pool, clock: applyStoreOptions(opts).clock}, nil
}

// GetConfig implements Store.
func (s *PostgreSQLStore) GetConfig(ctx context.Context, service string) (ServiceConfig, bool, error) {
	cfg := ServiceConfig{Service: service}
	err := s.pool.QueryRow(ctx,
		`SELECT daily_limit, enabled FROM api_config WHERE service = $1`, service,
	).Scan(&cfg.DailyLimit, &cfg.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceConfig{}, false, nil
	}
	if err != nil {
		return ServiceConfig{}, false, fmt.Errorf("failed to query config: %w", err)
	}
	return cfg, true, nil
}

// CreateConfigIfAbsent implements Store.
func (s *PostgreSQLStore) CreateConfigIfAbsent(ctx context.Context, cfg ServiceConfig) (ServiceConfig, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_config (service, daily_limit, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
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
func (s *PostgreSQLStore) SaveConfig(ctx context.Context, cfg ServiceConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_config (service, daily_limit, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, cfg.Service, cfg.DailyLimit, cfg.Enabled, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetUsage implements Store.
func (s *PostgreSQLStore) GetUsage(ctx context.Context, key UsageKey) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM api_usage
		WHERE service = $1 AND endpoint = $2 AND date = $3 AND user_id = $4
	`, key.Service, key.Endpoint, key.Date, key.UserID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query usage: %w", err)
	}
	return n, nil
}

// IncrementUsage implements Store.
func (s *PostgreSQLStore) IncrementUsage(ctx context.Context, key UsageKey) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO api_usage (id, service, endpoint, date, user_id, count, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (service, endpoint, date, user_id) DO UPDATE SET
			count = api_usage.count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING count
	`, uuid.New(), key.Service, key.Endpoint, key.Date, key.UserID, s.clock.Now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return n, nil
}

// DeleteUsage implements Store.
func (s *PostgreSQLStore) DeleteUsage(ctx context.Context, service, date string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_usage WHERE service = $1 AND date = $2`, service, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteUsageBefore implements Store.
func (s *PostgreSQLStore) DeleteUsageBefore(ctx context.Context, date string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_usage WHERE date < $1`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the shared storage.
func (s *PostgreSQLStore) Close() error {
	return nil
}
