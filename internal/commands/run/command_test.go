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

package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/config"
)

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()

	assert.Equal(t, "run", cmd.Use)
	for _, name := range []string{"listen", "store", "sink"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Error(t, cmd.Args(cmd, []string{"extra"}))
}

func TestFlagsApply(t *testing.T) {
	cfg := config.Default()
	before := *cfg

	flags{}.apply(cfg)
	assert.Equal(t, before.Server.Listen, cfg.Server.Listen)
	assert.Equal(t, before.Store.Backend, cfg.Store.Backend)

	flags{listen: "127.0.0.1:0", store: "memory", sink: "stdout"}.apply(cfg)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "stdout", cfg.Sink.Type)
}

func TestRun_RejectsInvalidOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("POLLGATE_CONFIG", "")
	t.Setenv("POLLGATE_STORE_BACKEND", "memory")
	cmd := NewCommand()
	cmd.SetArgs([]string{"--store", "etcd"})
	cmd.SetContext(context.Background())

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}
