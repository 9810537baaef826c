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

// Package httpjson polls any JSON HTTP endpoint.
//
// Items are extracted with a jq expression. The dedup strategy follows the
// configuration: time_field selects time-based dedup, id_field selects
// last-item dedup. Last-item sources must list items newest first; set
// sort to desc_by_time to reorder them by time_field before dedup.
//
// Configuration:
//
//	url:          endpoint to GET (required)
//	items:        jq expression producing the item list (default ".")
//	time_field:   jq path to each item's timestamp
//	id_field:     jq path to each item's identifier
//	sort:         "desc_by_time" to sort items newest first
//	headers:      static request headers
//	query:        static query parameters
//	since_param:  query parameter receiving the time cursor
//	since_format: "rfc3339" (default) or "epoch_ms" or "epoch_s"
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/jq"
	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Name is the piece identifier.
const Name = "httpjson"

// SortDescByTime reorders items newest first by time_field.
const SortDescByTime = "desc_by_time"

// Piece polls generic JSON endpoints.
type Piece struct {
	client *resty.Client
	jq     *jq.Executor
}

// New creates the piece. A nil client uses pieces.NewClient.
func New(client *resty.Client) *Piece {
	if client == nil {
		client = pieces.NewClient(0)
	}
	return &Piece{
		client: client,
		jq:     jq.NewExecutor(0, 0),
	}
}

// Name implements pieces.Piece.
func (p *Piece) Name() string { return Name }

// Description implements pieces.Piece.
func (p *Piece) Description() string {
	return "Poll a JSON HTTP endpoint, extracting items with jq"
}

// Validate implements pieces.Piece.
func (p *Piece) Validate(config map[string]interface{}) error {
	raw := pieces.String(config, "url")
	if raw == "" {
		return &pgerrors.ValidationError{Field: "url", Message: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &pgerrors.ValidationError{Field: "url", Message: fmt.Sprintf("invalid url %q", raw), Hint: "use an absolute http or https URL"}
	}

	timeField := pieces.String(config, "time_field")
	idField := pieces.String(config, "id_field")
	if timeField == "" && idField == "" {
		return &pgerrors.ValidationError{
			Field:   "time_field",
			Message: "one of time_field or id_field is required",
			Hint:    "time_field selects time-based dedup, id_field selects last-item dedup",
		}
	}

	switch s := pieces.String(config, "sort"); s {
	case "":
	case SortDescByTime:
		if timeField == "" || idField == "" {
			return &pgerrors.ValidationError{Field: "sort", Message: "desc_by_time needs both time_field and id_field"}
		}
	default:
		return &pgerrors.ValidationError{Field: "sort", Message: fmt.Sprintf("unknown sort %q", s), Hint: "supported: desc_by_time"}
	}

	switch f := pieces.String(config, "since_format"); f {
	case "", "rfc3339", "epoch_ms", "epoch_s":
	default:
		return &pgerrors.ValidationError{Field: "since_format", Message: fmt.Sprintf("unknown format %q", f)}
	}

	for field, expr := range map[string]string{
		"items":      pieces.String(config, "items"),
		"time_field": jqPath(timeField),
		"id_field":   jqPath(idField),
	} {
		if err := p.jq.Validate(expr); err != nil {
			return &pgerrors.ValidationError{Field: field, Message: err.Error()}
		}
	}
	return nil
}

// Strategy implements pieces.Piece. id_field takes precedence, so a config
// with both fields and sort desc_by_time dedups by id in time order.
func (p *Piece) Strategy(config map[string]interface{}) (polling.Strategy, error) {
	if err := p.Validate(config); err != nil {
		return nil, err
	}
	if pieces.String(config, "id_field") != "" {
		return polling.LastItem{Items: p.lastItems}, nil
	}
	return polling.TimeBased{Items: p.timedItems}, nil
}

func (p *Piece) timedItems(ctx context.Context, auth any, config map[string]interface{}, lastFetchEpochMs int64) ([]polling.TimedItem, error) {
	raw, err := p.fetch(ctx, auth, config, lastFetchEpochMs)
	if err != nil {
		return nil, err
	}

	timeExpr := jqPath(pieces.String(config, "time_field"))
	items := make([]polling.TimedItem, 0, len(raw))
	for i, v := range raw {
		ms, err := p.epochOf(ctx, timeExpr, v)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, polling.TimedItem{EpochMs: ms, Data: pieces.ToPayload(v)})
	}
	return items, nil
}

func (p *Piece) lastItems(ctx context.Context, auth any, config map[string]interface{}, lastItemID *string) ([]polling.IdentifiedItem, error) {
	raw, err := p.fetch(ctx, auth, config, 0)
	if err != nil {
		return nil, err
	}

	if pieces.String(config, "sort") == SortDescByTime {
		raw, err = p.sortNewestFirst(ctx, jqPath(pieces.String(config, "time_field")), raw)
		if err != nil {
			return nil, err
		}
	}

	idExpr := jqPath(pieces.String(config, "id_field"))
	items := make([]polling.IdentifiedItem, 0, len(raw))
	for i, v := range raw {
		idVal, err := p.jq.Execute(ctx, idExpr, v)
		if err != nil {
			return nil, fmt.Errorf("item %d: id_field: %w", i, err)
		}
		id, err := pieces.IDString(idVal)
		if err != nil {
			return nil, fmt.Errorf("item %d: id_field: %w", i, err)
		}
		items = append(items, polling.IdentifiedItem{ID: id, Data: pieces.ToPayload(v)})
	}
	return items, nil
}

func (p *Piece) fetch(ctx context.Context, auth any, config map[string]interface{}, since int64) ([]interface{}, error) {
	req := p.client.R().
		SetContext(ctx).
		SetHeaders(pieces.StringMap(config, "headers")).
		SetQueryParams(pieces.StringMap(config, "query"))

	creds := pieces.CredentialsFrom(auth)
	switch {
	case creds.Username != "":
		req.SetBasicAuth(creds.Username, firstNonEmpty(creds.Password, creds.Token))
	case creds.Token != "":
		req.SetAuthToken(creds.Token)
	}

	if param := pieces.String(config, "since_param"); param != "" && since > 0 {
		req.SetQueryParam(param, formatSince(since, pieces.String(config, "since_format")))
	}

	resp, err := req.Get(pieces.String(config, "url"))
	if err := pieces.CheckResponse(Name, resp, err); err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, &pgerrors.UpstreamError{Source: Name, StatusCode: resp.StatusCode(), Message: "response is not JSON", Cause: err}
	}

	items, err := p.jq.Items(ctx, pieces.String(config, "items"), doc)
	if err != nil {
		return nil, fmt.Errorf("items expression: %w", err)
	}
	return items, nil
}

func (p *Piece) epochOf(ctx context.Context, expr string, item interface{}) (int64, error) {
	v, err := p.jq.Execute(ctx, expr, item)
	if err != nil {
		return 0, fmt.Errorf("time_field: %w", err)
	}
	ms, err := pieces.EpochMillis(v)
	if err != nil {
		return 0, fmt.Errorf("time_field: %w", err)
	}
	return ms, nil
}

func (p *Piece) sortNewestFirst(ctx context.Context, timeExpr string, raw []interface{}) ([]interface{}, error) {
	type keyed struct {
		ms   int64
		item interface{}
	}
	keyedItems := make([]keyed, len(raw))
	for i, v := range raw {
		ms, err := p.epochOf(ctx, timeExpr, v)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		keyedItems[i] = keyed{ms: ms, item: v}
	}
	sort.SliceStable(keyedItems, func(i, j int) bool {
		return keyedItems[i].ms > keyedItems[j].ms
	})
	out := make([]interface{}, len(keyedItems))
	for i, k := range keyedItems {
		out[i] = k.item
	}
	return out, nil
}

// jqPath accepts "created_at" as shorthand for ".created_at".
func jqPath(field string) string {
	if field == "" || strings.HasPrefix(field, ".") {
		return field
	}
	return "." + field
}

func formatSince(ms int64, format string) string {
	switch format {
	case "epoch_ms":
		return strconv.FormatInt(ms, 10)
	case "epoch_s":
		return strconv.FormatInt(ms/1000, 10)
	default:
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
