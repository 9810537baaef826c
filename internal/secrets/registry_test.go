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

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	t.Setenv("POLLGATE_TEST_TOKEN", "from-env")

	dir := t.TempDir()
	secretFile := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0600))

	r := Default()
	ctx := context.Background()

	tests := []struct {
		name      string
		reference string
		want      string
	}{
		{"empty", "", ""},
		{"literal", "plain-token", "plain-token"},
		{"env scheme", "env:POLLGATE_TEST_TOKEN", "from-env"},
		{"legacy syntax", "${POLLGATE_TEST_TOKEN}", "from-env"},
		{"embedded expansion", "Bearer ${POLLGATE_TEST_TOKEN}", "Bearer from-env"},
		{"file scheme", "file:" + secretFile, "from-file"},
		{"unknown scheme is literal", "vault:secret/x", "vault:secret/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.reference)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistryResolveErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0600))
	big := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", 32)), 0600))

	r := NewRegistry()
	require.NoError(t, r.Register(NewEnvProvider()))
	require.NoError(t, r.Register(NewFileProvider(16)))

	tests := []struct {
		name      string
		reference string
		reason    string
	}{
		{"unset env", "env:POLLGATE_TEST_UNSET_VAR", "not set"},
		{"relative path", "file:relative/token", "absolute"},
		{"missing file", "file:" + filepath.Join(dir, "missing"), "not found"},
		{"empty file", "file:" + empty, "empty"},
		{"oversized file", "file:" + big, "maximum size"},
		{"directory", "file:" + dir, "directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.reference)
			require.Error(t, err)

			var resErr *ResolutionError
			require.True(t, errors.As(err, &resErr))
			assert.Equal(t, tt.reference, resErr.Reference)
			assert.Contains(t, resErr.Reason, tt.reason)
		})
	}
}

func TestRegisterDuplicateScheme(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEnvProvider()))
	assert.Error(t, r.Register(NewEnvProvider()))
	assert.Equal(t, []string{"env"}, r.Schemes())
}

func TestErrorDoesNotLeakValue(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(big, []byte("super-secret-value-that-is-long"), 0600))

	r := NewRegistry()
	require.NoError(t, r.Register(NewFileProvider(4)))

	_, err := r.Resolve(context.Background(), "file:"+big)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret")
}
