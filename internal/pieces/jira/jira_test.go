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

package jira

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

func TestBuildJQL(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]interface{}
		want    string
		wantErr bool
	}{
		{
			name:   "raw jql",
			config: map[string]interface{}{"jql": "project = OPS"},
			want:   "project = OPS ORDER BY created DESC",
		},
		{
			name:    "raw jql with order",
			config:  map[string]interface{}{"jql": "project = OPS order by key"},
			wantErr: true,
		},
		{
			name: "structured",
			config: map[string]interface{}{
				"project":     "OPS",
				"issue_types": []interface{}{"Bug", "Task"},
				"statuses":    "To Do",
			},
			want: `project = "OPS" AND issuetype in ("Bug", "Task") AND status in ("To Do") ORDER BY created DESC`,
		},
		{
			name:    "injection rejected",
			config:  map[string]interface{}{"project": `OPS" OR project = "X`},
			wantErr: true,
		},
		{
			name:    "empty",
			config:  map[string]interface{}{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildJQL(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItems_NewestFirstWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search/jql", r.URL.Path)
		assert.Equal(t, "project = OPS ORDER BY created DESC", r.URL.Query().Get("jql"))
		assert.Equal(t, "10", r.URL.Query().Get("maxResults"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "tok", pass)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issues":[
			{"id":"10002","key":"OPS-2","fields":{"summary":"second","status":{"name":"To Do"},"created":"2024-01-02T00:00:00.000+0000"}},
			{"id":"10001","key":"OPS-1","fields":{"summary":"first","assignee":{"accountId":"u1","displayName":"Ada"}}}
		]}`))
	}))
	defer srv.Close()

	config := map[string]interface{}{"instance_url": srv.URL + "/", "jql": "project = OPS", "max_results": 10}
	s, err := New(nil).Strategy(config)
	require.NoError(t, err)
	require.Equal(t, polling.KindLastItem, s.Kind())

	items, err := s.(polling.LastItem).Items(context.Background(), pieces.Credentials{Username: "bot@example.com", Token: "tok"}, config, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "10002", items[0].ID)
	assert.Equal(t, "OPS-2", items[0].Data["key"])
	assert.Equal(t, "To Do", items[0].Data["status"])
	assert.Equal(t, "Ada", items[1].Data["assignee"].(map[string]interface{})["display_name"])
}

func TestItems_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	config := map[string]interface{}{"instance_url": srv.URL, "project": "OPS"}
	s, err := New(nil).Strategy(config)
	require.NoError(t, err)

	_, err = s.(polling.LastItem).Items(context.Background(), nil, config, nil)
	var upstream *pgerrors.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "auth", upstream.ErrorType())
	assert.False(t, upstream.IsRetryable())
}

func TestValidate(t *testing.T) {
	p := New(nil)
	var valErr *pgerrors.ValidationError

	require.ErrorAs(t, p.Validate(map[string]interface{}{"project": "OPS"}), &valErr)
	assert.Equal(t, "instance_url", valErr.Field)

	require.ErrorAs(t, p.Validate(map[string]interface{}{"instance_url": "https://x.atlassian.net"}), &valErr)
	assert.Equal(t, "jql", valErr.Field)

	require.ErrorAs(t, p.Validate(map[string]interface{}{"instance_url": "https://x.atlassian.net", "project": "OPS", "max_results": 500}), &valErr)
	assert.Equal(t, "max_results", valErr.Field)
}
