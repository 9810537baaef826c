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

// Package sqlite stores trigger state in a single SQLite file, for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/pollgate/internal/controller/backend"
)

var _ backend.Backend = (*Backend)(nil)

const memoryPath = ":memory:"

const (
	schema = `CREATE TABLE IF NOT EXISTS trigger_store (
	trigger_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (trigger_id, key)
)`

	selectValue = `SELECT value FROM trigger_store WHERE trigger_id = ? AND key = ?`
	upsertValue = `INSERT INTO trigger_store (trigger_id, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(trigger_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	deleteValue   = `DELETE FROM trigger_store WHERE trigger_id = ? AND key = ?`
	selectKeys    = `SELECT key FROM trigger_store WHERE trigger_id = ? ORDER BY key`
	deleteTrigger = `DELETE FROM trigger_store WHERE trigger_id = ?`
)

// Config selects the database file.
type Config struct {
	// Path is a file path or ":memory:".
	Path string

	// WAL switches file databases to write-ahead logging.
	WAL bool
}

// Backend implements backend.Backend on one SQLite connection.
type Backend struct {
	db *sql.DB
}

// New opens or creates the database at cfg.Path, creating parent
// directories as needed.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writes are serialized anyway, and an in-memory database only lives as
	// long as its connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// dsn carries the pragmas in the connection string so every new
// connection gets them.
func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if cfg.WAL && cfg.Path != memoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return cfg.Path + "?" + q.Encode()
}

func (b *Backend) Name() string { return "sqlite" }

// Get returns nil for an absent key. A stored empty value is returned as
// an empty, non-nil slice.
func (b *Backend) Get(ctx context.Context, triggerID, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, selectValue, triggerID, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("sqlite get %s/%s: %w", triggerID, key, err)
	case value == nil:
		return []byte{}, nil
	}
	return value, nil
}

func (b *Backend) Put(ctx context.Context, triggerID, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := b.db.ExecContext(ctx, upsertValue, triggerID, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite put %s/%s: %w", triggerID, key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, triggerID, key string) error {
	if _, err := b.db.ExecContext(ctx, deleteValue, triggerID, key); err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", triggerID, key, err)
	}
	return nil
}

// Keys lists triggerID's keys in lexical order.
func (b *Backend) Keys(ctx context.Context, triggerID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, selectKeys, triggerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite keys %s: %w", triggerID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite keys %s: %w", triggerID, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *Backend) DeleteAll(ctx context.Context, triggerID string) error {
	if _, err := b.db.ExecContext(ctx, deleteTrigger, triggerID); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", triggerID, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
