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

// Package store opens the cursor store backend named in configuration.
package store

import (
	"context"
	"fmt"

	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller/backend"
	"github.com/tombee/pollgate/internal/controller/backend/memory"
	"github.com/tombee/pollgate/internal/controller/backend/postgres"
	"github.com/tombee/pollgate/internal/controller/backend/redis"
	"github.com/tombee/pollgate/internal/controller/backend/sqlite"
)

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (backend.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "", "sqlite":
		b, err := sqlite.New(sqlite.Config{
			Path: cfg.SQLite.Path,
			WAL:  cfg.SQLite.WAL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return b, nil
	case "redis":
		b, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return b, nil
	case "postgres":
		b, err := postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxConns:         cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
