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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	"github.com/tombee/pollgate/internal/tracing"
)

const (
	// DefaultSubject prefixes the subjects events are published on.
	DefaultSubject = "pollgate.events"

	flushTimeout = 5 * time.Second
)

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL string

	// Subject is the prefix; events go to <Subject>.<trigger>.
	Subject string
}

// NATS publishes each event to a NATS subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to the NATS server at cfg.URL.
func NewNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(url,
		nats.Name("pollgate"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATS{nc: nc, subject: subject}, nil
}

// Subject returns the subject an event for trigger is published on.
func (n *NATS) Subject(trigger string) string {
	return n.subject + "." + trigger
}

// Emit implements polltrigger.Sink. It returns once the server has
// acknowledged receipt of the publish.
func (n *NATS) Emit(ctx context.Context, event *polltrigger.TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := nats.NewMsg(n.Subject(event.Trigger))
	msg.Data = data
	// JetStream uses Nats-Msg-Id for duplicate detection
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	tracing.InjectHeaders(ctx, http.Header(msg.Header))

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	// FlushWithContext refuses contexts without a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
