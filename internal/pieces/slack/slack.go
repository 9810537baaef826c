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

// Package slack polls Slack channels for new messages.
package slack

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Name is the piece identifier.
const Name = "slack"

// DefaultBaseURL is the Slack Web API.
const DefaultBaseURL = "https://slack.com/api"

// Piece polls conversations.history with time-based dedup on message ts.
//
// Configuration: channels (required, channel IDs), mentions (only messages
// mentioning this user), exclude_bots (default true), base_url.
type Piece struct {
	client *resty.Client
}

// New creates the piece. A nil client uses pieces.NewClient.
func New(client *resty.Client) *Piece {
	if client == nil {
		client = pieces.NewClient(0)
	}
	return &Piece{client: client}
}

// Name implements pieces.Piece.
func (p *Piece) Name() string { return Name }

// Description implements pieces.Piece.
func (p *Piece) Description() string { return "New messages in Slack channels" }

// Validate implements pieces.Piece.
func (p *Piece) Validate(config map[string]interface{}) error {
	if len(pieces.Strings(config, "channels")) == 0 {
		return &pgerrors.ValidationError{Field: "channels", Message: "at least one channel is required", Hint: "use channel IDs such as C0123456789"}
	}
	if raw := pieces.String(config, "base_url"); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			return &pgerrors.ValidationError{Field: "base_url", Message: fmt.Sprintf("invalid url %q", raw)}
		}
	}
	return nil
}

// Strategy implements pieces.Piece.
func (p *Piece) Strategy(config map[string]interface{}) (polling.Strategy, error) {
	if err := p.Validate(config); err != nil {
		return nil, err
	}
	return polling.TimeBased{Items: p.items}, nil
}

func (p *Piece) items(ctx context.Context, auth any, config map[string]interface{}, lastFetchEpochMs int64) ([]polling.TimedItem, error) {
	mentions := strings.TrimPrefix(pieces.String(config, "mentions"), "@")
	excludeBots := true
	if _, set := config["exclude_bots"]; set {
		excludeBots = pieces.Bool(config, "exclude_bots")
	}

	oldest := "0"
	if lastFetchEpochMs > 0 {
		oldest = fmt.Sprintf("%d.%03d", lastFetchEpochMs/1000, lastFetchEpochMs%1000)
	}

	token := pieces.CredentialsFrom(auth).Token
	var items []polling.TimedItem
	for _, channel := range pieces.Strings(config, "channels") {
		messages, err := p.history(ctx, config, token, channel, oldest)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}

		for _, msg := range messages {
			if mentions != "" && !containsMention(msg, mentions) {
				continue
			}
			if excludeBots && isBot(msg) {
				continue
			}
			ms, err := pieces.EpochMillis(msg["ts"])
			if err != nil {
				return nil, fmt.Errorf("channel %s: message ts: %w", channel, err)
			}
			items = append(items, polling.TimedItem{EpochMs: ms, Data: messageToPayload(msg, channel)})
		}
	}
	return items, nil
}

func (p *Piece) history(ctx context.Context, config map[string]interface{}, token, channel, oldest string) ([]map[string]interface{}, error) {
	baseURL := pieces.String(config, "base_url")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var result historyResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"channel": channel,
			"oldest":  oldest,
			"limit":   "100",
		}).
		SetResult(&result).
		Get(strings.TrimSuffix(baseURL, "/") + "/conversations.history")
	if err := pieces.CheckResponse(Name, resp, err); err != nil {
		return nil, err
	}

	// Slack reports most failures with HTTP 200 and ok=false.
	if !result.OK {
		upstream := &pgerrors.UpstreamError{Source: Name, StatusCode: resp.StatusCode(), Message: result.Error}
		switch result.Error {
		case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
			upstream.StatusCode = 401
		case "channel_not_found", "not_in_channel":
			upstream.StatusCode = 404
		case "ratelimited":
			upstream.StatusCode = 429
		}
		return nil, upstream
	}

	return result.Messages, nil
}

// containsMention reports whether msg mentions username, either as plain
// @username or as a <@USERID> reference.
func containsMention(msg map[string]interface{}, username string) bool {
	text, ok := msg["text"].(string)
	if !ok {
		return false
	}
	return strings.Contains(text, "@"+username) || strings.Contains(text, "<@"+username+">")
}

func isBot(msg map[string]interface{}) bool {
	if botID, ok := msg["bot_id"].(string); ok && botID != "" {
		return true
	}
	subtype, _ := msg["subtype"].(string)
	return subtype == "bot_message"
}

func messageToPayload(msg map[string]interface{}, channel string) polling.Payload {
	payload := polling.Payload{"channel": channel}

	for _, key := range []string{"user", "text", "type", "thread_ts"} {
		if v, ok := msg[key].(string); ok {
			payload[key] = v
		}
	}
	if ts, ok := msg["ts"].(string); ok {
		payload["timestamp"] = ts
		payload["id"] = fmt.Sprintf("%s:%s", channel, ts)
	}
	return payload
}

// Slack API response types

type historyResponse struct {
	OK       bool                     `json:"ok"`
	Messages []map[string]interface{} `json:"messages"`
	Error    string                   `json:"error,omitempty"`
}
