package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore implements Store for MongoDB. Configurations are keyed by
// service in api_config; counters live in api_usage under a unique compound index.
type MongoDBStore struct {
	usage   *mongo.Collection
	configs *mongo.Collection
	clock   clockwork.Clock
}

type usageDocument struct {
	ID        string    `bson:"_id"`
	Service   string    `bson:"service"`
	Endpoint  string    `bson:"endpoint"`
	Date      string    `bson:"date"`
	UserID    string    `bson:"user_id"`
	Count     int64     `bson:"count"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoDBStore creates the quota indexes if they don't exist.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, opts ...StoreOption) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	usage := database.Collection("api_usage")

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := usage.Indexes().CreateMany(indexCtx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "service", Value: 1},
				{Key: "endpoint", Value: 1},
				{Key: "date", Value: 1},
				{Key: "user_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "date", Value: 1}},
		},
	})
	if err != nil {
		// existing duplicate counters block the unique index
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to create unique usage index: %w", err)
		}
		slog.Warn("failed to create some MongoDB indexes for quota usage", "error", err)
	}

	return &MongoDBStore{
		usage:   usage,
		configs: database.Collection("api_config"),
		clock:   applyStoreOptions(opts).clock,
	}, nil
}

// GetConfig implements Store.
func (s *MongoDBStore) GetConfig(ctx context.Context, service string) (ServiceConfig, bool, error) {
	var cfg ServiceConfig
	err := s.configs.FindOne(ctx, bson.D{{Key: "_id", Value: service}}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ServiceConfig{}, false, nil
	}
	if err != nil {
		return ServiceConfig{}, false, fmt.Errorf("failed to query config: %w", err)
	}
	return cfg, true, nil
}

// CreateConfigIfAbsent implements Store.
func (s *MongoDBStore) CreateConfigIfAbsent(ctx context.Context, cfg ServiceConfig) (ServiceConfig, error) {
	_, err := s.configs.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: cfg.Service}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "daily_limit", Value: cfg.DailyLimit},
			{Key: "enabled", Value: cfg.Enabled},
			{Key: "updated_at", Value: s.clock.Now().UTC()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	// a concurrent upsert of the same _id loses with a duplicate key error
	if err != nil && !mongo.IsDuplicateKeyError(err) {
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
func (s *MongoDBStore) SaveConfig(ctx context.Context, cfg ServiceConfig) error {
	_, err := s.configs.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: cfg.Service}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "daily_limit", Value: cfg.DailyLimit},
			{Key: "enabled", Value: cfg.Enabled},
			{Key: "updated_at", Value: s.clock.Now().UTC()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func usageFilter(key UsageKey) bson.D {
	return bson.D{
		{Key: "service", Value: key.Service},
		{Key: "endpoint", Value: key.Endpoint},
		{Key: "date", Value: key.Date},
		{Key: "user_id", Value: key.UserID},
	}
}

// GetUsage implements Store.
func (s *MongoDBStore) GetUsage(ctx context.Context, key UsageKey) (int64, error) {
	var doc usageDocument
	err := s.usage.FindOne(ctx, usageFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query usage: %w", err)
	}
	return doc.Count, nil
}

// IncrementUsage implements Store. Two first increments racing on a new
// counter can both attempt the insert; the loser retries as an update.
func (s *MongoDBStore) IncrementUsage(ctx context.Context, key UsageKey) (int64, error) {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "count", Value: int64(1)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.clock.Now().UTC()}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "_id", Value: uuid.NewString()}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc usageDocument
	err := s.usage.FindOneAndUpdate(ctx, usageFilter(key), update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = s.usage.FindOneAndUpdate(ctx, usageFilter(key), update, opts).Decode(&doc)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return doc.Count, nil
}

// DeleteUsage implements Store.
func (s *MongoDBStore) DeleteUsage(ctx context.Context, service, date string) (int64, error) {
	res, err := s.usage.DeleteMany(ctx, bson.D{
		{Key: "service", Value: service},
		{Key: "date", Value: date},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage: %w", err)
	}
	return res.DeletedCount, nil
}

// DeleteUsageBefore implements Store.
func (s *MongoDBStore) DeleteUsageBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.usage.DeleteMany(ctx, bson.D{
		{Key: "date", Value: bson.D{{Key: "$lt", Value: date}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage: %w", err)
	}
	return res.DeletedCount, nil
}

// Close is a no-op; the client belongs to the shared storage.
func (s *MongoDBStore) Close() error {
	return nil
}
