// Package polltrigger runs poll triggers on top of the polling engine.
//
// A trigger binds a piece (item source) and its configuration to a dedup
// strategy once, at registration. The service arms triggers, schedules their
// polls, and turns every new item the engine reports into a TriggerEvent
// delivered to a sink. Cursor state lives in the backend, scoped per trigger,
// so a restarted controller resumes where it left off.
package polltrigger

import (
	"context"
	"time"

	"github.com/tombee/pollgate/pkg/polling"
)

// Registration declares a poll trigger.
type Registration struct {
	// Name uniquely identifies the trigger and scopes its stored state.
	Name string

	// Piece names the item source in the piece registry.
	Piece string

	// Auth is handed to the piece's item function unchanged.
	Auth any

	// Config is the piece configuration.
	Config map[string]interface{}

	// Interval between scheduled polls. Zero uses the service default.
	Interval time.Duration

	// MaxItemsToPoll caps new items per poll for last-item pieces.
	MaxItemsToPoll int

	// InputMapping maps event input names to expressions over the payload.
	InputMapping map[string]string

	// Disabled registers the trigger without arming or scheduling it.
	Disabled bool
}

// TriggerEvent is emitted once for every new item a poll reports.
type TriggerEvent struct {
	// ID is unique per emitted event.
	ID string `json:"id"`

	Trigger  string       `json:"trigger"`
	Piece    string       `json:"piece"`
	Strategy polling.Kind `json:"strategy"`
	FiredAt  time.Time    `json:"fired_at"`

	// Payload is the item data with sensitive fields removed.
	Payload polling.Payload `json:"payload"`

	// Inputs holds the evaluated input mapping, if any.
	Inputs map[string]interface{} `json:"inputs,omitempty"`
}

// Sink receives fired events.
type Sink interface {
	Emit(ctx context.Context, event *TriggerEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event *TriggerEvent) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, event *TriggerEvent) error { return f(ctx, event) }

// PollResult summarizes one poll.
type PollResult struct {
	Trigger  string          `json:"trigger"`
	Events   []*TriggerEvent `json:"events"`
	Duration time.Duration   `json:"duration"`

	// SinkErrors counts events the sink failed to accept.
	SinkErrors int `json:"sink_errors,omitempty"`
}

// TriggerStatus is the externally visible state of a trigger.
type TriggerStatus struct {
	Status

	Interval  time.Duration       `json:"interval"`
	Scheduled bool                `json:"scheduled"`
	Cursor    polling.CursorState `json:"cursor"`

	// BackoffUntil is set while the piece is rate limited.
	BackoffUntil time.Time `json:"backoff_until,omitempty"`
}
