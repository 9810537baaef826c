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

// Package pagerduty polls PagerDuty for new incidents.
package pagerduty

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Name is the piece identifier.
const Name = "pagerduty"

// DefaultBaseURL is the PagerDuty REST API.
const DefaultBaseURL = "https://api.pagerduty.com"

// Piece polls incidents with time-based dedup on created_at.
//
// Configuration (all optional): user_id, services, teams, statuses
// (default triggered and acknowledged), urgencies, base_url.
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
func (p *Piece) Description() string { return "New PagerDuty incidents" }

// Validate implements pieces.Piece.
func (p *Piece) Validate(config map[string]interface{}) error {
	if raw := pieces.String(config, "base_url"); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			return &pgerrors.ValidationError{Field: "base_url", Message: fmt.Sprintf("invalid url %q", raw)}
		}
	}
	for _, s := range pieces.Strings(config, "statuses") {
		switch s {
		case "triggered", "acknowledged", "resolved":
		default:
			return &pgerrors.ValidationError{Field: "statuses", Message: fmt.Sprintf("unknown status %q", s), Hint: "use triggered, acknowledged or resolved"}
		}
	}
	for _, u := range pieces.Strings(config, "urgencies") {
		if u != "high" && u != "low" {
			return &pgerrors.ValidationError{Field: "urgencies", Message: fmt.Sprintf("unknown urgency %q", u)}
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
	params := url.Values{}

	if lastFetchEpochMs > 0 {
		params.Set("since", time.UnixMilli(lastFetchEpochMs).UTC().Format(time.RFC3339))
	}
	if userID := pieces.String(config, "user_id"); userID != "" {
		params.Add("user_ids[]", userID)
	}
	for _, svc := range pieces.Strings(config, "services") {
		params.Add("service_ids[]", svc)
	}
	for _, team := range pieces.Strings(config, "teams") {
		params.Add("team_ids[]", team)
	}
	statuses := pieces.Strings(config, "statuses")
	if len(statuses) == 0 {
		statuses = []string{"triggered", "acknowledged"}
	}
	for _, s := range statuses {
		params.Add("statuses[]", s)
	}
	for _, u := range pieces.Strings(config, "urgencies") {
		params.Add("urgencies[]", u)
	}
	params.Set("sort_by", "created_at:desc")
	params.Set("limit", "100")

	baseURL := pieces.String(config, "base_url")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	creds := pieces.CredentialsFrom(auth)
	var result incidentsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Token token="+creds.Token).
		SetQueryParamsFromValues(params).
		SetResult(&result).
		Get(strings.TrimSuffix(baseURL, "/") + "/incidents")
	if err := pieces.CheckResponse(Name, resp, err); err != nil {
		return nil, err
	}

	items := make([]polling.TimedItem, 0, len(result.Incidents))
	for _, incident := range result.Incidents {
		ms, err := pieces.EpochMillis(incident.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("incident %s: created_at: %w", incident.ID, err)
		}
		items = append(items, polling.TimedItem{EpochMs: ms, Data: incidentToPayload(incident)})
	}
	return items, nil
}

func incidentToPayload(incident incident) polling.Payload {
	payload := polling.Payload{
		"id":         incident.ID,
		"title":      incident.Title,
		"status":     incident.Status,
		"urgency":    incident.Urgency,
		"created_at": incident.CreatedAt,
		"html_url":   incident.HTMLURL,
	}

	if incident.Service.ID != "" {
		payload["service"] = map[string]interface{}{
			"id":   incident.Service.ID,
			"name": incident.Service.Summary,
		}
	}

	if len(incident.Assignments) > 0 {
		assignees := make([]interface{}, 0, len(incident.Assignments))
		for _, a := range incident.Assignments {
			assignees = append(assignees, map[string]interface{}{
				"id":   a.Assignee.ID,
				"name": a.Assignee.Summary,
			})
		}
		payload["assignees"] = assignees
	}

	return payload
}

// PagerDuty API response types

type incidentsResponse struct {
	Incidents []incident `json:"incidents"`
	More      bool       `json:"more"`
}

type incident struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      string       `json:"status"`
	Urgency     string       `json:"urgency"`
	CreatedAt   string       `json:"created_at"`
	HTMLURL     string       `json:"html_url"`
	Service     reference    `json:"service"`
	Assignments []assignment `json:"assignments"`
}

type reference struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

type assignment struct {
	Assignee reference `json:"assignee"`
}
