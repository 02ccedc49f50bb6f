package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// Postgres driver.
	_ "github.com/lib/pq"

	"github.com/fclairamb/pinnotes/internal/apperrors"
)

const (
	postgresTableName        = "pinnotes_kv"
	postgresOperationTimeout = 5 * time.Second
)

// PostgresKV stores keys in a single Postgres table with upsert-on-key
// semantics. The connection and schema are initialized lazily on first
// use.
type PostgresKV struct {
	dsn       string
	tableName string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresKV creates a Postgres-backed KV store from a DSN.
func NewPostgresKV(dsn string) (*PostgresKV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, apperrors.ErrStorageNotConfigured
	}
	return &PostgresKV{
		dsn:       dsn,
		tableName: postgresTableName,
	}, nil
}

func (kv *PostgresKV) ensureReady(ctx context.Context) error {
	kv.initOnce.Do(func() {
		db, err := sql.Open("postgres", kv.dsn)
		if err != nil {
			kv.initErr = fmt.Errorf("open database: %w", err)
			return
		}

		initCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, kv.tableName)
		if _, err := db.ExecContext(initCtx, query); err != nil {
			kv.initErr = fmt.Errorf("create table: %w", err)
			return
		}

		kv.db = db
	})
	return kv.initErr
}

// Get reads a key's value, or (nil, nil) when missing.
func (kv *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := kv.ensureReady(ctx); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", kv.tableName)
	var value string
	err := kv.db.QueryRowContext(opCtx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set upserts a key's value.
func (kv *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.ensureReady(ctx); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, kv.tableName)
	if _, err := kv.db.ExecContext(opCtx, query, key, string(value)); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (kv *PostgresKV) Delete(ctx context.Context, key string) error {
	if err := kv.ensureReady(ctx); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", kv.tableName)
	if _, err := kv.db.ExecContext(opCtx, query, key); err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Close releases the database connection.
func (kv *PostgresKV) Close() error {
	if kv.db != nil {
		return kv.db.Close()
	}
	return nil
}
