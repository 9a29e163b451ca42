package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/database"
)

var ErrNotFound = errors.New("store: key not found")

// Store is a namespaced key-value store. Values are opaque bytes; callers own
// the encoding.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error

	// General
	Close() error
}

// New opens the backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg)
	case "mysql":
		return NewMySQLStore(ctx, cfg)
	case "mongo":
		return NewMongoStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported state storage type %q", cfg.Type)
	}
}

func NewSQLiteStore(ctx context.Context, cfg config.StateStorage) (*SQLStore, error) {
	db, err := database.Open(cfg, database.Options{MaxOpenConns: 1, PingRetries: 1})
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, db, sqliteDialect)
}

func NewMySQLStore(ctx context.Context, cfg config.StateStorage) (*SQLStore, error) {
	db, err := database.Open(cfg, database.Options{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		PingRetries:  30,
		PingBackoff:  time.Second,
	})
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, db, mysqlDialect)
}
