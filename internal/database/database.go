package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
)

type Database struct {
	DB     *sql.DB
	Driver string
}

// Options tune the pool and the startup ping loop.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	PingRetries  int
	PingBackoff  time.Duration
}

// Open connects with the driver matching cfg.Type ("sqlite" or "mysql").
func Open(cfg config.StateStorage, opts Options) (*Database, error) {
	driver, dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	retries := opts.PingRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.String("driver", driver), zap.Error(err), zap.Int("attempt", i+1))
		if i+1 < retries {
			time.Sleep(opts.PingBackoff)
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s after %d attempts: %w", driver, retries, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to state database", zap.String("driver", driver))

	return &Database{DB: db, Driver: driver}, nil
}

func dsnFor(cfg config.StateStorage) (driver, dsn string, err error) {
	switch cfg.Type {
	case "sqlite":
		path := cfg.FilePath
		if path == "" {
			path = "attendance-sync.db"
		}
		return "sqlite", "file:" + path +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", nil
	case "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database), nil
	default:
		return "", "", fmt.Errorf("no sql driver for state storage type %q", cfg.Type)
	}
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
