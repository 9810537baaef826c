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

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())
	require.NoError(t, b.Close())

	path := filepath.Join(t.TempDir(), "state", "pollgate.db")
	b, err = Open(ctx, config.StoreConfig{
		Backend: "sqlite",
		SQLite:  config.SQLiteConfig{Path: path, WAL: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", b.Name())

	require.NoError(t, b.Put(ctx, "alerts", "lastPoll", []byte("1")))
	got, err := b.Get(ctx, "alerts", "lastPoll")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	require.NoError(t, b.Close())
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(ctx, config.StoreConfig{Backend: "sqlite"})
	assert.Error(t, err, "sqlite requires a path")

	_, err = Open(ctx, config.StoreConfig{Backend: "redis"})
	assert.Error(t, err, "redis requires an address")

	_, err = Open(ctx, config.StoreConfig{Backend: "postgres"})
	assert.Error(t, err, "postgres requires a connection string")
}
