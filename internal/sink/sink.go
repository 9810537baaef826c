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

// Package sink delivers fired trigger events to their consumers.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
)

// Sink is a polltrigger.Sink that holds resources until closed.
type Sink interface {
	polltrigger.Sink
	io.Closer
}

// New creates the sink selected by cfg.Type.
func New(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Type {
	case "", "stdout":
		return NewWriter(os.Stdout), nil
	case "webhook":
		return NewWebhook(WebhookConfig{
			URL:        cfg.Webhook.URL,
			Headers:    cfg.Webhook.Headers,
			Timeout:    cfg.Webhook.Timeout,
			RetryCount: cfg.Webhook.RetryCount,
		})
	case "nats":
		return NewNATS(ctx, NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		}, logger)
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
}
