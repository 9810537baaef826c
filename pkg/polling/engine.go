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

package polling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// TestSampleSize is the most items Test returns.
const TestSampleSize = 5

// ErrNoItemSource is returned when a strategy's Items function is nil.
var ErrNoItemSource = errors.New("polling: strategy has no item source")

// Params are the per-call inputs shared by all engine operations.
type Params struct {
	// Store holds the trigger's cursor. Not used by Test.
	Store Store

	// Auth is passed through to the item source untouched.
	Auth any

	// Config is passed through to the item source untouched.
	Config map[string]interface{}

	// MaxItemsToPoll caps the number of new items a last-item Poll returns,
	// keeping the newest. Zero or negative means no cap.
	MaxItemsToPoll int
}

// Engine runs the lifecycle operations of poll triggers. It holds no
// per-trigger state and is safe for concurrent use across triggers.
type Engine struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used by time-based OnEnable.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnEnable establishes the baseline cursor without emitting items.
//
// Time-based triggers start from the current time. Last-item triggers read
// the current window once and remember its newest id; an empty window clears
// the cursor so the first Poll reports everything it sees.
func (e *Engine) OnEnable(ctx context.Context, s Strategy, p Params) error {
	s, err := resolve(s)
	if err != nil {
		return err
	}

	switch st := s.(type) {
	case TimeBased:
		now := e.now().UnixMilli()
		if err := putCursor(ctx, p.Store, KeyLastPoll, now); err != nil {
			return fmt.Errorf("polling: save cursor: %w", err)
		}
		e.logger.Debug("armed time-based trigger", slog.Int64("cursor", now))
		return nil

	case LastItem:
		items, err := st.Items(ctx, p.Auth, p.Config, nil)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			if err := p.Store.Delete(ctx, KeyLastItem); err != nil {
				return fmt.Errorf("polling: clear cursor: %w", err)
			}
			e.logger.Debug("armed last-item trigger with empty window")
			return nil
		}
		if err := putCursor(ctx, p.Store, KeyLastItem, items[0].ID); err != nil {
			return fmt.Errorf("polling: save cursor: %w", err)
		}
		e.logger.Debug("armed last-item trigger", slog.String("cursor", items[0].ID))
		return nil
	}

	return &UnknownStrategyError{Strategy: s}
}

// Poll returns the payloads of items not delivered by an earlier Poll and
// advances the cursor past them. On error nothing is persisted.
func (e *Engine) Poll(ctx context.Context, s Strategy, p Params) ([]Payload, error) {
	s, err := resolve(s)
	if err != nil {
		return nil, err
	}

	switch st := s.(type) {
	case TimeBased:
		return e.pollTimeBased(ctx, st, p)
	case LastItem:
		return e.pollLastItem(ctx, st, p)
	}

	return nil, &UnknownStrategyError{Strategy: s}
}

func (e *Engine) pollTimeBased(ctx context.Context, s TimeBased, p Params) ([]Payload, error) {
	last, found, err := getCursor[int64](ctx, p.Store, KeyLastPoll)
	if err != nil {
		return nil, fmt.Errorf("polling: load cursor: %w", err)
	}
	if !found {
		return nil, &MissingCursorError{Key: KeyLastPoll}
	}

	items, err := s.Items(ctx, p.Auth, p.Config, last)
	if err != nil {
		return nil, err
	}

	next := last
	payloads := make([]Payload, 0, len(items))
	for _, item := range items {
		if item.EpochMs > next {
			next = item.EpochMs
		}
		if item.EpochMs > last {
			payloads = append(payloads, item.Data)
		}
	}

	// Written even when nothing is new so the watermark tracks every item
	// the source has shown.
	if err := putCursor(ctx, p.Store, KeyLastPoll, next); err != nil {
		return nil, fmt.Errorf("polling: save cursor: %w", err)
	}

	e.logger.Debug("polled time-based trigger",
		slog.Int64("cursor", last),
		slog.Int64("next_cursor", next),
		slog.Int("window", len(items)),
		slog.Int("new", len(payloads)))

	return payloads, nil
}

func (e *Engine) pollLastItem(ctx context.Context, s LastItem, p Params) ([]Payload, error) {
	last, found, err := getCursor[string](ctx, p.Store, KeyLastItem)
	if err != nil {
		return nil, fmt.Errorf("polling: load cursor: %w", err)
	}

	var hint *string
	if found {
		hint = &last
	}

	items, err := s.Items(ctx, p.Auth, p.Config, hint)
	if err != nil {
		return nil, err
	}

	fresh := items
	if found {
		for i, item := range items {
			if item.ID == last {
				fresh = items[:i]
				break
			}
		}
	}

	// Items are newest first, so the cap drops from the tail.
	if p.MaxItemsToPoll > 0 && len(fresh) > p.MaxItemsToPoll {
		fresh = fresh[:p.MaxItemsToPoll]
	}

	if len(fresh) > 0 {
		if err := putCursor(ctx, p.Store, KeyLastItem, fresh[0].ID); err != nil {
			return nil, fmt.Errorf("polling: save cursor: %w", err)
		}
	}

	e.logger.Debug("polled last-item trigger",
		slog.Bool("had_cursor", found),
		slog.Int("window", len(items)),
		slog.Int("new", len(fresh)))

	payloads := make([]Payload, len(fresh))
	for i, item := range fresh {
		payloads[i] = item.Data
	}
	return payloads, nil
}

// OnDisable is the counterpart of OnEnable. It leaves cursor state in place;
// callers that want a fresh baseline on the next enable call Reset.
func (e *Engine) OnDisable(ctx context.Context, s Strategy, p Params) error {
	_, err := resolve(s)
	return err
}

// Reset deletes the strategy's cursor, returning the trigger to the
// uninitialized state.
func (e *Engine) Reset(ctx context.Context, s Strategy, p Params) error {
	s, err := resolve(s)
	if err != nil {
		return err
	}
	key, err := cursorKey(s)
	if err != nil {
		return err
	}
	if err := p.Store.Delete(ctx, key); err != nil {
		return fmt.Errorf("polling: delete cursor: %w", err)
	}
	return nil
}

// Test previews what the source returns from an empty baseline. It never
// touches the store and returns at most TestSampleSize payloads in source
// order.
func (e *Engine) Test(ctx context.Context, s Strategy, p Params) ([]Payload, error) {
	s, err := resolve(s)
	if err != nil {
		return nil, err
	}

	var payloads []Payload
	switch st := s.(type) {
	case TimeBased:
		items, err := st.Items(ctx, p.Auth, p.Config, 0)
		if err != nil {
			return nil, err
		}
		payloads = make([]Payload, 0, min(len(items), TestSampleSize))
		for _, item := range items[:min(len(items), TestSampleSize)] {
			payloads = append(payloads, item.Data)
		}
	case LastItem:
		items, err := st.Items(ctx, p.Auth, p.Config, nil)
		if err != nil {
			return nil, err
		}
		payloads = make([]Payload, 0, min(len(items), TestSampleSize))
		for _, item := range items[:min(len(items), TestSampleSize)] {
			payloads = append(payloads, item.Data)
		}
	default:
		return nil, &UnknownStrategyError{Strategy: s}
	}

	return payloads, nil
}

// CursorState is a read-only view of a trigger's cursor.
type CursorState struct {
	Kind  Kind   `json:"kind"`
	Key   string `json:"key"`
	Set   bool   `json:"set"`
	Value any    `json:"value,omitempty"`
}

// Cursor reports the stored cursor for s without modifying it.
func (e *Engine) Cursor(ctx context.Context, s Strategy, p Params) (CursorState, error) {
	s, err := resolve(s)
	if err != nil {
		return CursorState{}, err
	}

	state := CursorState{Kind: s.Kind()}
	switch s.(type) {
	case TimeBased:
		state.Key = KeyLastPoll
		v, found, err := getCursor[int64](ctx, p.Store, KeyLastPoll)
		if err != nil {
			return state, err
		}
		if found {
			state.Set, state.Value = true, v
		}
	case LastItem:
		state.Key = KeyLastItem
		v, found, err := getCursor[string](ctx, p.Store, KeyLastItem)
		if err != nil {
			return state, err
		}
		if found {
			state.Set, state.Value = true, v
		}
	}
	return state, nil
}

// resolve normalizes pointer variants and rejects strategies without a source.
func resolve(s Strategy) (Strategy, error) {
	switch st := s.(type) {
	case TimeBased:
		if st.Items == nil {
			return nil, ErrNoItemSource
		}
		return st, nil
	case *TimeBased:
		if st == nil {
			return nil, &UnknownStrategyError{Strategy: s}
		}
		return resolve(*st)
	case LastItem:
		if st.Items == nil {
			return nil, ErrNoItemSource
		}
		return st, nil
	case *LastItem:
		if st == nil {
			return nil, &UnknownStrategyError{Strategy: s}
		}
		return resolve(*st)
	default:
		return nil, &UnknownStrategyError{Strategy: s}
	}
}
