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

package slack

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

func TestItems_FiltersAndConvertsTimestamps(t *testing.T) {
	var oldest, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.history", r.URL.Path)
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		oldest = r.URL.Query().Get("oldest")
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"messages":[
			{"type":"message","user":"U1","text":"hey <@U9>","ts":"1704067202.000200"},
			{"type":"message","bot_id":"B1","text":"deploy done <@U9>","ts":"1704067201.000000"},
			{"type":"message","user":"U2","text":"unrelated","ts":"1704067200.500000"}
		]}`))
	}))
	defer srv.Close()

	config := map[string]interface{}{
		"base_url": srv.URL,
		"channels": []interface{}{"C1"},
		"mentions": "U9",
	}
	s, err := New(nil).Strategy(config)
	require.NoError(t, err)

	items, err := s.(polling.TimeBased).Items(context.Background(), pieces.Credentials{Token: "xoxb"}, config, 1704067200250)
	require.NoError(t, err)

	assert.Equal(t, "1704067200.250", oldest)
	assert.Equal(t, "Bearer xoxb", auth)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1704067202000), items[0].EpochMs)
	assert.Equal(t, "C1:1704067202.000200", items[0].Data["id"])
	assert.Equal(t, "U1", items[0].Data["user"])
}

func TestItems_IncludesBotsWhenAsked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"bot_id":"B1","text":"hi","ts":"1704067201.000000"}]}`))
	}))
	defer srv.Close()

	config := map[string]interface{}{"base_url": srv.URL, "channels": "C1", "exclude_bots": false}
	s, err := New(nil).Strategy(config)
	require.NoError(t, err)

	items, err := s.(polling.TimeBased).Items(context.Background(), nil, config, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestItems_OKFalseIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer srv.Close()

	config := map[string]interface{}{"base_url": srv.URL, "channels": "C1"}
	s, err := New(nil).Strategy(config)
	require.NoError(t, err)

	_, err = s.(polling.TimeBased).Items(context.Background(), nil, config, 0)
	var upstream *pgerrors.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "auth", upstream.ErrorType())
	assert.Equal(t, "invalid_auth", upstream.Message)
}

func TestValidate_RequiresChannels(t *testing.T) {
	var valErr *pgerrors.ValidationError
	require.ErrorAs(t, New(nil).Validate(map[string]interface{}{}), &valErr)
	assert.Equal(t, "channels", valErr.Field)
}
