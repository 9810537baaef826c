package polltrigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/pollgate/pkg/polling"
)

// StatusKey is the store key trigger status is kept under, next to the
// engine's cursor keys in the same trigger scope.
const StatusKey = "status"

// Phase is the lifecycle phase of a trigger.
type Phase string

const (
	// PhaseUninitialized means the trigger was never armed, or was purged.
	PhaseUninitialized Phase = "uninitialized"
	// PhaseArmed means the cursor is initialized and polls are scheduled.
	PhaseArmed Phase = "armed"
	// PhasePaused means the circuit breaker stopped scheduling.
	PhasePaused Phase = "paused"
	// PhaseDisabled means the trigger was disabled and its cursor kept.
	PhaseDisabled Phase = "disabled"
)

// InactiveError is returned when a poll is requested for a trigger that is
// paused or disabled. Enable arms it again.
type InactiveError struct {
	Trigger string
	Phase   Phase
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("trigger %s is %s", e.Trigger, e.Phase)
}

func (e *InactiveError) ErrorType() string   { return "trigger_inactive" }
func (e *InactiveError) IsRetryable() bool   { return false }
func (e *InactiveError) IsUserVisible() bool { return true }
func (e *InactiveError) UserMessage() string { return e.Error() }

func (e *InactiveError) Suggestion() string {
	return fmt.Sprintf("run 'pollgate triggers enable %s' to arm it again", e.Trigger)
}

// pollable reports whether st allows a poll. Uninitialized triggers are
// left to the engine, which reports the missing cursor.
func (st *Status) pollable() error {
	switch st.Phase {
	case PhasePaused, PhaseDisabled:
		return &InactiveError{Trigger: st.Trigger, Phase: st.Phase}
	}
	return nil
}

// Status tracks a trigger across polls and controller restarts.
type Status struct {
	Trigger  string       `json:"trigger"`
	Piece    string       `json:"piece"`
	Strategy polling.Kind `json:"strategy"`
	Phase    Phase        `json:"phase"`

	// ArmedAt is when the cursor was last initialized.
	ArmedAt time.Time `json:"armed_at,omitempty"`

	LastPollAt    time.Time `json:"last_poll_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`

	// LastError is the last poll error, sanitized.
	LastError string `json:"last_error,omitempty"`

	// ErrorCount tracks consecutive errors for the circuit breaker.
	ErrorCount int `json:"error_count"`

	// EventsFired counts events handed to the sink.
	EventsFired int64 `json:"events_fired"`

	UpdatedAt time.Time `json:"updated_at"`
}

// loadStatus returns the stored status, or an uninitialized one when absent.
func loadStatus(ctx context.Context, store polling.Store, name string) (*Status, error) {
	raw, err := store.Get(ctx, StatusKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	if raw == nil {
		return &Status{Trigger: name, Phase: PhaseUninitialized}, nil
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

func saveStatus(ctx context.Context, store polling.Store, st *Status, now time.Time) error {
	st.UpdatedAt = now
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := store.Put(ctx, StatusKey, raw); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func deleteStatus(ctx context.Context, store polling.Store) error {
	if err := store.Delete(ctx, StatusKey); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}
