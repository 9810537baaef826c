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

// Package backendtest holds the behavior every cursor backend must share.
package backendtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/controller/backend"
)

// Run exercises b against the Backend contract. Trigger IDs are prefixed
// with prefix so shared servers can run the suite concurrently.
func Run(t *testing.T, b backend.Backend, prefix string) {
	t.Helper()
	ctx := context.Background()
	a, other := prefix+"trigger-a", prefix+"trigger-b"

	t.Cleanup(func() {
		_ = b.DeleteAll(ctx, a)
		_ = b.DeleteAll(ctx, other)
	})

	t.Run("absent key", func(t *testing.T) {
		v, err := b.Get(ctx, a, "missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("put get overwrite", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, a, "lastPoll", []byte("1000")))
		v, err := b.Get(ctx, a, "lastPoll")
		require.NoError(t, err)
		assert.Equal(t, []byte("1000"), v)

		require.NoError(t, b.Put(ctx, a, "lastPoll", []byte("2000")))
		v, err = b.Get(ctx, a, "lastPoll")
		require.NoError(t, err)
		assert.Equal(t, []byte("2000"), v)
	})

	t.Run("triggers are isolated", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, other, "lastPoll", []byte("5")))
		v, err := b.Get(ctx, a, "lastPoll")
		require.NoError(t, err)
		assert.Equal(t, []byte("2000"), v)
	})

	t.Run("keys", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, a, "status", []byte("{}")))
		keys, err := b.Keys(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, []string{"lastPoll", "status"}, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, a, "status"))
		require.NoError(t, b.Delete(ctx, a, "never-written"))
		v, err := b.Get(ctx, a, "status")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, b.DeleteAll(ctx, a))
		keys, err := b.Keys(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, keys)

		v, err := b.Get(ctx, other, "lastPoll")
		require.NoError(t, err)
		assert.Equal(t, []byte("5"), v)
	})

	t.Run("scoped store", func(t *testing.T) {
		store := backend.Scope(b, a)
		require.NoError(t, store.Put(ctx, "lastItem", []byte(`"c"`)))
		v, err := b.Get(ctx, a, "lastItem")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"c"`), v)
		require.NoError(t, store.Delete(ctx, "lastItem"))
		v, err = store.Get(ctx, "lastItem")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}
