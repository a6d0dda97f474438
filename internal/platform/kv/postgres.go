package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopledger/shopledger/internal/platform/db"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

// Postgres stores entries in a kv_entries table, partitioned by namespace.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
	owned     bool
}

// OpenPostgres connects to dsn, applies the schema and returns a store that
// closes the pool on Close.
func OpenPostgres(ctx context.Context, dsn, namespace string) (*Postgres, error) {
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	store, err := NewPostgres(ctx, pool, namespace)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewPostgres wraps an existing pool and ensures the table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, namespace string) (*Postgres, error) {
	if namespace == "" {
		namespace = "shopledger"
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("kv: apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool, namespace: namespace}, nil
}

// Get loads the value for key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`, p.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: postgres select %s: %w", key, err)
	}
	return value, nil
}

// Put upserts the value for key.
func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_entries (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		p.namespace, key, value)
	if err != nil {
		return fmt.Errorf("kv: postgres upsert %s: %w", key, err)
	}
	return nil
}

// PutMany upserts every entry in one transaction.
func (p *Postgres) PutMany(ctx context.Context, entries map[string][]byte) error {
	for key := range entries {
		if err := checkKey(key); err != nil {
			return err
		}
	}
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for key, value := range entries {
			if value == nil {
				value = []byte{}
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO kv_entries (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
				ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
				p.namespace, key, value)
			if err != nil {
				return fmt.Errorf("kv: postgres upsert %s: %w", key, err)
			}
		}
		return nil
	})
}

// Delete removes key.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`, p.namespace, key); err != nil {
		return fmt.Errorf("kv: postgres delete %s: %w", key, err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (p *Postgres) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}
