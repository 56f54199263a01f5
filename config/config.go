// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends for the quota store.
const (
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"
)

// Config holds the application configuration
type Config struct {
	Cache   CacheConfig
	Storage StorageConfig
	Redis   RedisConfig
	Quota   QuotaConfig
	Log     LogConfig
}

// CacheConfig holds the durable cache configuration.
// TTL overrides are kept as raw strings so the cache layer can warn about invalid values
// instead of silently coercing them.
type CacheConfig struct {
	// BaseDir is the cache root directory (CACHE_BASE_DIR)
	BaseDir string

	// Backend selects the cache store: "file" or "redis"
	Backend string

	// TTL overrides in integer hours
	PlacesTTLHours   string
	ImagesTTLHours   string
	SearchesTTLHours string
	DefaultTTLHours  string

	// SweepIntervalMinutes enables the periodic expired-entry sweep (0 = off)
	SweepIntervalMinutes int
}

// StorageConfig holds the quota store connection configuration.
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb"
	Type       string
	SQLite     SQLiteStorageConfig
	PostgreSQL PostgreSQLStorageConfig
	MongoDB    MongoDBStorageConfig
}

// SQLiteStorageConfig holds SQLite-specific configuration
type SQLiteStorageConfig struct {
	Path string
}

// PostgreSQLStorageConfig holds PostgreSQL-specific configuration
type PostgreSQLStorageConfig struct {
	URL      string
	MaxConns int
}

// MongoDBStorageConfig holds MongoDB-specific configuration
type MongoDBStorageConfig struct {
	URL      string
	Database string
}

// RedisConfig holds the shared Redis connection used by the Redis cache backend
// and the Redis usage memo.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// QuotaConfig holds quota tracker configuration
type QuotaConfig struct {
	// DefaultDailyLimit is the limit assigned to services seen for the first time
	DefaultDailyLimit int64

	// MemoBackend selects the usage read cache: "local" or "redis"
	MemoBackend string

	// RetentionDays enables background deletion of old counters (0 = off)
	RetentionDays int
}

// LogConfig holds application log output configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string

	// Format is "json", "pretty" or "auto"
	Format string
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an error.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	setDefaults()
	viper.AutomaticEnv()

	cfg := &Config{
		Cache: CacheConfig{
			BaseDir:              viper.GetString("CACHE_BASE_DIR"),
			Backend:              strings.ToLower(viper.GetString("CACHE_BACKEND")),
			PlacesTTLHours:       viper.GetString("CACHE_PLACES_TTL_HOURS"),
			ImagesTTLHours:       viper.GetString("CACHE_IMAGES_TTL_HOURS"),
			SearchesTTLHours:     viper.GetString("CACHE_SEARCHES_TTL_HOURS"),
			DefaultTTLHours:      viper.GetString("CACHE_DEFAULT_TTL_HOURS"),
			SweepIntervalMinutes: viper.GetInt("CACHE_SWEEP_INTERVAL_MINUTES"),
		},
		Storage: StorageConfig{
			Type: strings.ToLower(viper.GetString("STORAGE_TYPE")),
			SQLite: SQLiteStorageConfig{
				Path: viper.GetString("SQLITE_PATH"),
			},
			PostgreSQL: PostgreSQLStorageConfig{
				URL:      viper.GetString("POSTGRES_URL"),
				MaxConns: viper.GetInt("POSTGRES_MAX_CONNS"),
			},
			MongoDB: MongoDBStorageConfig{
				URL:      viper.GetString("MONGODB_URL"),
				Database: viper.GetString("MONGODB_DATABASE"),
			},
		},
		Redis: RedisConfig{
			URL:       viper.GetString("REDIS_URL"),
			KeyPrefix: viper.GetString("REDIS_KEY_PREFIX"),
		},
		Quota: QuotaConfig{
			DefaultDailyLimit: viper.GetInt64("QUOTA_DEFAULT_DAILY_LIMIT"),
			MemoBackend:       strings.ToLower(viper.GetString("QUOTA_MEMO_BACKEND")),
			RetentionDays:     viper.GetInt("QUOTA_RETENTION_DAYS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(viper.GetString("LOG_LEVEL")),
			Format: strings.ToLower(viper.GetString("LOG_FORMAT")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("CACHE_BASE_DIR", "./.cache")
	viper.SetDefault("CACHE_BACKEND", "file")
	viper.SetDefault("CACHE_SWEEP_INTERVAL_MINUTES", 0)
	viper.SetDefault("STORAGE_TYPE", StorageSQLite)
	viper.SetDefault("SQLITE_PATH", ".cache/tripcache.db")
	viper.SetDefault("POSTGRES_MAX_CONNS", 10)
	viper.SetDefault("MONGODB_DATABASE", "tripcache")
	viper.SetDefault("REDIS_KEY_PREFIX", "tripcache")
	viper.SetDefault("QUOTA_DEFAULT_DAILY_LIMIT", 2000)
	viper.SetDefault("QUOTA_MEMO_BACKEND", "local")
	viper.SetDefault("QUOTA_RETENTION_DAYS", 0)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "auto")
}

// Validate checks the values that would otherwise fail late, at connection time.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "file":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s (valid: file, redis)", c.Cache.Backend)
	}

	switch c.Storage.Type {
	case StorageSQLite, StoragePostgreSQL, StorageMongoDB:
	default:
		return fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", c.Storage.Type)
	}

	switch c.Quota.MemoBackend {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when QUOTA_MEMO_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown quota memo backend: %s (valid: local, redis)", c.Quota.MemoBackend)
	}

	if c.Quota.DefaultDailyLimit <= 0 {
		return fmt.Errorf("QUOTA_DEFAULT_DAILY_LIMIT must be positive, got %d", c.Quota.DefaultDailyLimit)
	}
	if c.Cache.SweepIntervalMinutes < 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL_MINUTES must not be negative")
	}
	if c.Quota.RetentionDays < 0 {
		return fmt.Errorf("QUOTA_RETENTION_DAYS must not be negative")
	}
	return nil
}
