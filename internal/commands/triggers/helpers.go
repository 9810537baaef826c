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

package triggers

import (
	"fmt"
	"io"
	"time"

	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatCursor(st *polltrigger.TriggerStatus) string {
	if !st.Cursor.Set {
		return "unset"
	}
	return fmt.Sprintf("%s=%v", st.Cursor.Key, st.Cursor.Value)
}

// printStatus writes the human readable form of st.
func printStatus(w io.Writer, st *polltrigger.TriggerStatus) {
	fmt.Fprintf(w, "Trigger:      %s\n", st.Trigger)
	fmt.Fprintf(w, "Piece:        %s\n", st.Piece)
	fmt.Fprintf(w, "Strategy:     %s\n", st.Strategy)
	fmt.Fprintf(w, "Phase:        %s\n", st.Phase)
	fmt.Fprintf(w, "Interval:     %s\n", st.Interval)
	fmt.Fprintf(w, "Cursor:       %s\n", formatCursor(st))
	fmt.Fprintf(w, "Armed at:     %s\n", formatTime(st.ArmedAt))
	fmt.Fprintf(w, "Last poll:    %s\n", formatTime(st.LastPollAt))
	fmt.Fprintf(w, "Last success: %s\n", formatTime(st.LastSuccessAt))
	fmt.Fprintf(w, "Events fired: %d\n", st.EventsFired)
	fmt.Fprintf(w, "Error count:  %d\n", st.ErrorCount)
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", st.LastError)
	}
	if !st.BackoffUntil.IsZero() {
		fmt.Fprintf(w, "Backoff:      until %s\n", formatTime(st.BackoffUntil))
	}
}

// emitStatus writes st as JSON or text depending on --json.
func emitStatus(w io.Writer, command string, st *polltrigger.TriggerStatus) error {
	if shared.GetJSON() {
		return shared.WriteJSON(w, struct {
			shared.JSONResponse
			Trigger *polltrigger.TriggerStatus `json:"trigger"`
		}{
			JSONResponse: shared.OK(command),
			Trigger:      st,
		})
	}
	printStatus(w, st)
	return nil
}
