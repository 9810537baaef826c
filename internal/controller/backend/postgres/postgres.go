// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres provides a PostgreSQL backend implementation for
// deployments that already run a relational database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tombee/pollgate/internal/controller/backend"
)

// Compile-time interface assertion.
var _ backend.Backend = (*Backend)(nil)

// Backend is a PostgreSQL storage backend.
type Backend struct {
	pool *pgxpool.Pool
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	// ConnectionString is a postgres:// URL or key/value DSN.
	ConnectionString string

	// MaxConns caps the pool size. Zero uses the pgx default.
	MaxConns int32
}

// New connects to PostgreSQL and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{pool: pool}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS pollgate_trigger_store (
		trigger_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (trigger_id, key)
	)`)
	return err
}

// Name returns "postgres".
func (b *Backend) Name() string { return "postgres" }

// Get returns the stored value, or nil if absent.
func (b *Backend) Get(ctx context.Context, triggerID, key string) ([]byte, error) {
	var value []byte
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM pollgate_trigger_store WHERE trigger_id = $1 AND key = $2`,
		triggerID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", triggerID, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put creates or replaces the value for key.
func (b *Backend) Put(ctx context.Context, triggerID, key string, value []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO pollgate_trigger_store (trigger_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (trigger_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, triggerID, key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", triggerID, key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, triggerID, key string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM pollgate_trigger_store WHERE trigger_id = $1 AND key = $2`,
		triggerID, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", triggerID, key, err)
	}
	return nil
}

// Keys lists a trigger's keys.
func (b *Backend) Keys(ctx context.Context, triggerID string) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key FROM pollgate_trigger_store WHERE trigger_id = $1 ORDER BY key`,
		triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// DeleteAll removes all of a trigger's keys.
func (b *Backend) DeleteAll(ctx context.Context, triggerID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM pollgate_trigger_store WHERE trigger_id = $1`, triggerID); err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", triggerID, err)
	}
	return nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
