package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoServerSelectionTimeout = 10 * time.Second
	mongoDisconnectTimeout      = 10 * time.Second
)

type mongoStorage struct {
	handles
	client *mongo.Client
}

// NewMongoDB connects to the server in cfg.URL and pings it.
func NewMongoDB(ctx context.Context, cfg MongoDBConfig) (Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MongoDB URL is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultMongoDatabase
	}

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetAppName(appName).
		SetServerSelectionTimeout(mongoServerSelectionTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &mongoStorage{
		handles: handles{mongo: client.Database(cfg.Database)},
		client:  client,
	}, nil
}

func (s *mongoStorage) Type() string { return TypeMongoDB }

func (s *mongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
