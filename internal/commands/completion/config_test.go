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

package completion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/commands/shared"
)

func TestSecurePermissions(t *testing.T) {
	tests := []struct {
		mode os.FileMode
		want bool
	}{
		{0600, true},
		{0400, true},
		{0700, true},
		{0640, false},
		{0644, false},
		{0755, false},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte("store: {}\n"), 0600))
			require.NoError(t, os.Chmod(path, tt.mode))
			assert.Equal(t, tt.want, SecurePermissions(path))
		})
	}

	assert.True(t, SecurePermissions(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestCompletionConfig_NoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("POLLGATE_CONFIG", "")
	shared.SetConfigPathForTest("")

	cfg, err := completionConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestCompletionConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triggers: [\n"), 0600))
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	_, err := completionConfig()
	assert.Error(t, err)

	names, directive := CompleteTriggerNames(&cobra.Command{}, nil, "")
	assert.Empty(t, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestSafeComplete(t *testing.T) {
	results, directive := safeComplete(func() ([]string, cobra.ShellCompDirective) {
		return []string{"a", "b"}, cobra.ShellCompDirectiveKeepOrder
	})
	assert.Equal(t, []string{"a", "b"}, results)
	assert.Equal(t, cobra.ShellCompDirectiveKeepOrder, directive)

	results, directive = safeComplete(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	results, directive = safeComplete(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}
