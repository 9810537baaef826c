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

package shared

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailed},
		{"config", &pgerrors.ConfigError{Key: "validation", Reason: "bad"}, ExitInvalidConfig},
		{"validation", fmt.Errorf("trigger a: %w", &pgerrors.ValidationError{Field: "url", Message: "required"}), ExitInvalidConfig},
		{"not found", &pgerrors.NotFoundError{Resource: "trigger", ID: "a"}, ExitNotFound},
		{"upstream", &pgerrors.UpstreamError{Source: "jira", StatusCode: 500}, ExitUpstreamError},
		{"backoff", &polltrigger.BackoffError{Piece: "jira"}, ExitUpstreamError},
		{"missing cursor", &polling.MissingCursorError{Key: polling.KeyLastItem}, ExitNoCursor},
		{"explicit", &ExitError{Code: 42, Message: "custom"}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ExitCodeFor(tt.err))
		})
	}
}

func TestErrorCodeFor(t *testing.T) {
	assert.Equal(t, ErrorCodeNotFound, ErrorCodeFor(&pgerrors.NotFoundError{Resource: "trigger", ID: "a"}))
	assert.Equal(t, ErrorCodeInternal, ErrorCodeFor(errors.New("boom")))
}

func TestExitError(t *testing.T) {
	cause := &pgerrors.NotFoundError{Resource: "trigger", ID: "a"}
	err := NewExitError("lookup failed", cause)

	assert.Equal(t, ExitNotFound, err.Code)
	assert.Contains(t, err.Error(), "lookup failed")
	assert.ErrorIs(t, err, cause)
}

func TestIsNonInteractive_Env(t *testing.T) {
	t.Setenv(NonInteractiveEnv, "1")
	assert.True(t, IsNonInteractive())
}

func TestIsCIEnvironment(t *testing.T) {
	for _, v := range ciMarkers {
		t.Setenv(v, "")
	}
	assert.False(t, isCIEnvironment())

	t.Setenv("CI", "false")
	assert.False(t, isCIEnvironment())

	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, isCIEnvironment())

	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("JENKINS_HOME", "/var/lib/jenkins")
	assert.True(t, isCIEnvironment())
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("POLLGATE_CONFIG", "")
	SetConfigPathForTest("")
	defer SetConfigPathForTest("")

	assert.Empty(t, ResolveConfigPath(), "no config file exists yet")

	xdgPath := filepath.Join(dir, "pollgate", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(xdgPath), 0700))
	require.NoError(t, os.WriteFile(xdgPath, []byte("triggers: []\n"), 0600))
	assert.Equal(t, xdgPath, ResolveConfigPath())

	t.Setenv("POLLGATE_CONFIG", "/etc/pollgate.yaml")
	assert.Equal(t, "/etc/pollgate.yaml", ResolveConfigPath())

	SetConfigPathForTest("/tmp/flag.yaml")
	assert.Equal(t, "/tmp/flag.yaml", ResolveConfigPath())
}
