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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/controller/backend/backendtest"
)

func TestBackend_Contract(t *testing.T) {
	b, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer b.Close()

	backendtest.Run(t, b, "")
}

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cursors.db")

	b, err := New(Config{Path: path, WAL: true})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "jira-mine", "lastItem", []byte(`"10042"`)))
	require.NoError(t, b.Close())

	reopened, err := New(Config{Path: path, WAL: true})
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, "jira-mine", "lastItem")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"10042"`), v)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	assert.NotContains(t, dsn(Config{Path: ":memory:", WAL: true}), "journal_mode")
	assert.Contains(t, dsn(Config{Path: "/tmp/c.db", WAL: true}), "journal_mode")
	assert.Contains(t, dsn(Config{Path: "/tmp/c.db"}), "busy_timeout")
}
