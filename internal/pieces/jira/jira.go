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

// Package jira polls Jira Cloud for newly created issues.
package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Name is the piece identifier.
const Name = "jira"

const (
	defaultMaxResults = 50
	maxMaxResults     = 100
	searchFields      = "id,key,summary,status,issuetype,assignee,reporter,created,updated,priority,labels"
)

// Piece polls Jira issues with last-item dedup. Issues are searched with
// ORDER BY created DESC so the newest issue comes first.
//
// Configuration: instance_url (required), and either jql or any of
// project, assignee, issue_types, statuses, mentioned. max_results caps the
// search window (default 50, at most 100).
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
func (p *Piece) Description() string { return "New Jira issues matching a JQL search" }

// Validate implements pieces.Piece.
func (p *Piece) Validate(config map[string]interface{}) error {
	instance := pieces.String(config, "instance_url")
	if instance == "" {
		return &pgerrors.ValidationError{Field: "instance_url", Message: "instance_url is required", Hint: "e.g. https://yourcompany.atlassian.net"}
	}
	if u, err := url.Parse(instance); err != nil || u.Host == "" {
		return &pgerrors.ValidationError{Field: "instance_url", Message: fmt.Sprintf("invalid url %q", instance)}
	}
	if _, err := BuildJQL(config); err != nil {
		return &pgerrors.ValidationError{Field: "jql", Message: err.Error()}
	}
	if n := pieces.Int(config, "max_results", defaultMaxResults); n < 1 || n > maxMaxResults {
		return &pgerrors.ValidationError{Field: "max_results", Message: fmt.Sprintf("must be between 1 and %d", maxMaxResults)}
	}
	return nil
}

// Strategy implements pieces.Piece.
func (p *Piece) Strategy(config map[string]interface{}) (polling.Strategy, error) {
	if err := p.Validate(config); err != nil {
		return nil, err
	}
	return polling.LastItem{Items: p.items}, nil
}

func (p *Piece) items(ctx context.Context, auth any, config map[string]interface{}, _ *string) ([]polling.IdentifiedItem, error) {
	jql, err := BuildJQL(config)
	if err != nil {
		return nil, err
	}

	creds := pieces.CredentialsFrom(auth)
	var result searchResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(creds.Username, creds.Token).
		SetQueryParams(map[string]string{
			"jql":        jql,
			"maxResults": strconv.Itoa(pieces.Int(config, "max_results", defaultMaxResults)),
			"fields":     searchFields,
		}).
		SetResult(&result).
		Get(strings.TrimSuffix(pieces.String(config, "instance_url"), "/") + "/rest/api/3/search/jql")
	if err := pieces.CheckResponse(Name, resp, err); err != nil {
		return nil, err
	}

	items := make([]polling.IdentifiedItem, 0, len(result.Issues))
	for _, issue := range result.Issues {
		items = append(items, polling.IdentifiedItem{ID: issue.ID, Data: issueToPayload(issue)})
	}
	return items, nil
}

// BuildJQL returns the search query for config. A raw jql value is used as
// the filter; otherwise the structured fields are validated and combined.
func BuildJQL(config map[string]interface{}) (string, error) {
	if raw := strings.TrimSpace(pieces.String(config, "jql")); raw != "" {
		if strings.Contains(strings.ToUpper(raw), "ORDER BY") {
			return "", fmt.Errorf("jql must not contain ORDER BY, issues are always ordered by created DESC")
		}
		return raw + " ORDER BY created DESC", nil
	}

	var clauses []string

	if assignee := pieces.String(config, "assignee"); assignee != "" {
		if err := validateJQLIdentifier(assignee); err != nil {
			return "", fmt.Errorf("invalid assignee: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf("assignee = \"%s\"", escapeLiteral(assignee)))
	}

	if project := pieces.String(config, "project"); project != "" {
		if err := validateJQLIdentifier(project); err != nil {
			return "", fmt.Errorf("invalid project: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf("project = \"%s\"", escapeLiteral(project)))
	}

	for _, list := range []struct {
		key, field string
	}{
		{"issue_types", "issuetype"},
		{"statuses", "status"},
	} {
		values := pieces.Strings(config, list.key)
		if len(values) == 0 {
			continue
		}
		quoted := make([]string, 0, len(values))
		for _, v := range values {
			if err := validateJQLIdentifier(v); err != nil {
				return "", fmt.Errorf("invalid %s %q: %w", list.key, v, err)
			}
			quoted = append(quoted, fmt.Sprintf("\"%s\"", escapeLiteral(v)))
		}
		clauses = append(clauses, fmt.Sprintf("%s in (%s)", list.field, strings.Join(quoted, ", ")))
	}

	if mentioned := pieces.String(config, "mentioned"); mentioned != "" {
		if err := validateJQLIdentifier(mentioned); err != nil {
			return "", fmt.Errorf("invalid mentioned username: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf("text ~ \"%s\"", escapeLiteral(mentioned)))
	}

	if len(clauses) == 0 {
		return "", fmt.Errorf("jql or at least one of project, assignee, issue_types, statuses, mentioned is required")
	}

	return strings.Join(clauses, " AND ") + " ORDER BY created DESC", nil
}

// validateJQLIdentifier allows alphanumerics, underscore, hyphen, space,
// period and @.
func validateJQLIdentifier(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	for _, ch := range value {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '_' || ch == '-' || ch == ' ' || ch == '.' || ch == '@') {
			return fmt.Errorf("contains invalid character %q", ch)
		}
	}
	return nil
}

// escapeLiteral doubles quote characters in JQL string literals.
func escapeLiteral(value string) string {
	return strings.ReplaceAll(value, "\"", "\"\"")
}

func issueToPayload(issue issue) polling.Payload {
	payload := polling.Payload{
		"id":      issue.ID,
		"key":     issue.Key,
		"summary": issue.Fields.Summary,
	}

	if issue.Fields.Status != nil {
		payload["status"] = issue.Fields.Status.Name
	}
	if issue.Fields.IssueType != nil {
		payload["issue_type"] = issue.Fields.IssueType.Name
	}
	if issue.Fields.Assignee != nil {
		payload["assignee"] = userToMap(issue.Fields.Assignee)
	}
	if issue.Fields.Reporter != nil {
		payload["reporter"] = userToMap(issue.Fields.Reporter)
	}
	if issue.Fields.Created != "" {
		payload["created"] = issue.Fields.Created
	}
	if issue.Fields.Updated != "" {
		payload["updated"] = issue.Fields.Updated
	}
	if issue.Fields.Priority != nil {
		payload["priority"] = issue.Fields.Priority.Name
	}
	if len(issue.Fields.Labels) > 0 {
		payload["labels"] = issue.Fields.Labels
	}
	return payload
}

func userToMap(u *user) map[string]interface{} {
	return map[string]interface{}{
		"account_id":   u.AccountID,
		"display_name": u.DisplayName,
		"email":        u.EmailAddress,
	}
}

// Jira API response types

type searchResponse struct {
	Issues []issue `json:"issues"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields fields `json:"fields"`
}

type fields struct {
	Summary   string   `json:"summary"`
	Status    *named   `json:"status"`
	IssueType *named   `json:"issuetype"`
	Assignee  *user    `json:"assignee"`
	Reporter  *user    `json:"reporter"`
	Created   string   `json:"created"`
	Updated   string   `json:"updated"`
	Priority  *named   `json:"priority"`
	Labels    []string `json:"labels"`
}

type named struct {
	Name string `json:"name"`
}

type user struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}
