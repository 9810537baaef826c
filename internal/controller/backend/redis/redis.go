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

// Package redis provides a Redis backend. Each trigger is stored as one hash
// so that DeleteAll and Keys are single round trips.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tombee/pollgate/internal/controller/backend"
)

// Compile-time interface assertion.
var _ backend.Backend = (*Backend)(nil)

// DefaultPrefix namespaces trigger hashes.
const DefaultPrefix = "pollgate:trigger:"

// Backend is a Redis storage backend.
type Backend struct {
	client goredis.UniversalClient
	prefix string
}

// Config contains Redis connection configuration.
type Config struct {
	// Addr is host:port of the Redis server.
	Addr string

	// Password is optional.
	Password string

	// DB selects the logical database.
	DB int

	// Prefix overrides DefaultPrefix.
	Prefix string
}

// New connects to Redis.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) hashKey(triggerID string) string {
	return b.prefix + triggerID
}

// Name returns "redis".
func (b *Backend) Name() string { return "redis" }

// Get returns the stored value, or nil if absent.
func (b *Backend) Get(ctx context.Context, triggerID, key string) ([]byte, error) {
	v, err := b.client.HGet(ctx, b.hashKey(triggerID), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", triggerID, key, err)
	}
	return v, nil
}

// Put creates or replaces the value for key.
func (b *Backend) Put(ctx context.Context, triggerID, key string, value []byte) error {
	if err := b.client.HSet(ctx, b.hashKey(triggerID), key, value).Err(); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", triggerID, key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, triggerID, key string) error {
	if err := b.client.HDel(ctx, b.hashKey(triggerID), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", triggerID, key, err)
	}
	return nil
}

// Keys lists a trigger's keys.
func (b *Backend) Keys(ctx context.Context, triggerID string) ([]string, error) {
	keys, err := b.client.HKeys(ctx, b.hashKey(triggerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteAll removes the trigger's hash.
func (b *Backend) DeleteAll(ctx context.Context, triggerID string) error {
	if err := b.client.Del(ctx, b.hashKey(triggerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", triggerID, err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}
