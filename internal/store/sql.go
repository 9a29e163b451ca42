package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendance-sync-service/internal/database"
)

type dialect struct {
	name   string
	schema string
	upsert string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `CREATE TABLE IF NOT EXISTS offline_kv (
		namespace  TEXT NOT NULL,
		item_key   TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (namespace, item_key)
	)`,
	upsert: `INSERT INTO offline_kv (namespace, item_key, value, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(namespace, item_key) DO UPDATE SET
			  value = excluded.value,
			  updated_at = excluded.updated_at`,
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: `CREATE TABLE IF NOT EXISTS offline_kv (
		namespace  VARCHAR(191) NOT NULL,
		item_key   VARCHAR(64)  NOT NULL,
		value      LONGBLOB     NOT NULL,
		updated_at DATETIME(6)  NOT NULL,
		PRIMARY KEY (namespace, item_key)
	)`,
	upsert: `INSERT INTO offline_kv (namespace, item_key, value, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  value = VALUES(value),
			  updated_at = VALUES(updated_at)`,
}

// SQLStore keeps the key-value table in SQLite or MySQL.
type SQLStore struct {
	db      *database.Database
	dialect dialect
}

func newSQLStore(ctx context.Context, db *database.Database, d dialect) (*SQLStore, error) {
	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, d.schema)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s schema: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	query := `SELECT value FROM offline_kv WHERE namespace = ? AND item_key = ?`

	var value []byte
	err := s.db.DB.QueryRowContext(ctx, query, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.DB.ExecContext(ctx, s.dialect.upsert, namespace, key, value, time.Now().UTC())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM offline_kv WHERE namespace = ? AND item_key = ?`, namespace, key)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
