package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
)

type mongoEntry struct {
	ID        string    `bson:"_id"`
	Namespace string    `bson:"namespace"`
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per namespace/key pair.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg config.StateStorage) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("state_storage.uri is required for mongo")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "offline_kv"
	}
	coll := client.Database(cfg.Database).Collection(collection)

	logger.Log.Info("Connected to mongo state store",
		zap.String("database", cfg.Database),
		zap.String("collection", collection),
	)
	return &MongoStore{client: client, coll: coll}, nil
}

func mongoID(namespace, key string) string {
	return namespace + "/" + key
}

func (s *MongoStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var entry mongoEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": mongoID(namespace, key)}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *MongoStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	entry := mongoEntry{
		ID:        mongoID(namespace, key),
		Namespace: namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": mongoID(namespace, key)})
	return err
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
