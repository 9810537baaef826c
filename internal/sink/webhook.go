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

package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	"github.com/tombee/pollgate/internal/pieces"
	"github.com/tombee/pollgate/internal/tracing"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	// EventIDHeader carries the event id so receivers can drop redeliveries.
	EventIDHeader = "X-Pollgate-Event-Id"
)

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	RetryCount int

	// RetryWait is the initial wait between retries. Default: 500ms.
	RetryWait time.Duration
}

// Webhook POSTs each event as JSON to a URL.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook creates a webhook sink. Transport errors, 429 and 5xx
// responses are retried up to RetryCount times.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook sink requires a url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "pollgate").
		SetHeaders(cfg.Headers).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		})

	return &Webhook{client: client, url: cfg.URL}, nil
}

// Emit implements polltrigger.Sink.
func (w *Webhook) Emit(ctx context.Context, event *polltrigger.TriggerEvent) error {
	req := w.client.R().
		SetContext(ctx).
		SetHeader(EventIDHeader, event.ID).
		SetBody(event)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := req.Post(w.url)
	return pieces.CheckResponse("webhook", resp, err)
}

// Close implements io.Closer.
func (w *Webhook) Close() error { return nil }
