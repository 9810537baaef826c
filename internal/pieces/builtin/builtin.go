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

// Package builtin assembles the pieces shipped with pollgate.
package builtin

import (
	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/pieces"
	"github.com/tombee/pollgate/internal/pieces/httpjson"
	"github.com/tombee/pollgate/internal/pieces/jira"
	"github.com/tombee/pollgate/internal/pieces/pagerduty"
	"github.com/tombee/pollgate/internal/pieces/slack"
)

// Registry returns a registry with every built-in piece sharing client.
// A nil client uses pieces.NewClient.
func Registry(client *resty.Client) *pieces.Registry {
	if client == nil {
		client = pieces.NewClient(0)
	}
	return pieces.NewRegistry(
		httpjson.New(client),
		jira.New(client),
		pagerduty.New(client),
		slack.New(client),
	)
}
