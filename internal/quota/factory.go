package quota

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"tripcache/internal/storage"
)

// StoreOption configures a persistent Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	clock clockwork.Clock
}

// WithClock sets the clock that stamps updated_at. Defaults to the real clock.
func WithClock(clock clockwork.Clock) StoreOption {
	return func(o *storeOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStore creates the Store matching the backend of a shared storage connection
// and prepares its schema. The returned Store does not own the connection.
func NewStore(ctx context.Context, conn storage.Storage, opts ...StoreOption) (Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch conn.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(conn.SQLiteDB(), opts...)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, conn.PostgreSQLPool(), opts...)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, conn.MongoDatabase(), opts...)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}
