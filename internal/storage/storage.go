// Package storage provides the shared database connection behind the quota store.
// The quota tracker, the operator CLI and integration tests all open their
// connection through New so the backend is chosen in one place.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Backends
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Defaults applied by New to zero-valued fields.
const (
	DefaultSQLitePath       = ".cache/tripcache.db"
	DefaultPostgresMaxConns = 10
	DefaultMongoDatabase    = "tripcache"

	// appName identifies tripcache connections on the database server
	appName = "tripcache"
)

// Config selects and configures the backend. Only the section matching Type is read.
type Config struct {
	Type       string
	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
	MongoDB    MongoDBConfig
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file; MemoryPath opens a private in-memory database
	Path string
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	URL      string
	MaxConns int
}

// MongoDBConfig holds MongoDB-specific configuration.
type MongoDBConfig struct {
	URL      string
	Database string
}

// WithDefaults returns a copy of c with every empty field set to its default.
// An empty Type selects SQLite.
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		c.Type = TypeSQLite
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = DefaultSQLitePath
	}
	if c.PostgreSQL.MaxConns <= 0 {
		c.PostgreSQL.MaxConns = DefaultPostgresMaxConns
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = DefaultMongoDatabase
	}
	return c
}

// Storage is one open database connection. Exactly one of the handle
// accessors returns a non-nil value, the one matching Type.
// Implementations must be safe for concurrent use.
type Storage interface {
	Type() string

	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database

	// Close releases the connection. Stores built on top of it must not be used afterwards.
	Close() error
}

// New applies defaults to cfg and opens the selected backend, verifying
// the connection before returning.
func New(ctx context.Context, cfg Config) (Storage, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}

// handles is embedded by every backend; the backend sets only its own field.
type handles struct {
	db    *sql.DB
	pool  *pgxpool.Pool
	mongo *mongo.Database
}

func (h handles) SQLiteDB() *sql.DB              { return h.db }
func (h handles) PostgreSQLPool() *pgxpool.Pool  { return h.pool }
func (h handles) MongoDatabase() *mongo.Database { return h.mongo }
