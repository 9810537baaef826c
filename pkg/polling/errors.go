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

import "fmt"

// MissingCursorError is returned when Poll runs on a time-based trigger that
// was never enabled.
type MissingCursorError struct {
	Key string
}

func (e *MissingCursorError) Error() string {
	return fmt.Sprintf("polling: cursor %q is not set; the trigger must be enabled before it is polled", e.Key)
}

// ErrorType implements errors.ErrorClassifier.
func (e *MissingCursorError) ErrorType() string { return "missing_cursor" }

// IsRetryable implements errors.ErrorClassifier.
func (e *MissingCursorError) IsRetryable() bool { return false }

// IsUserVisible implements errors.UserVisibleError.
func (e *MissingCursorError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *MissingCursorError) UserMessage() string {
	return "the trigger has no cursor yet"
}

// Suggestion implements errors.UserVisibleError.
func (e *MissingCursorError) Suggestion() string {
	return "enable the trigger before polling it"
}

// UnknownStrategyError is returned for a Strategy that is neither TimeBased
// nor LastItem.
type UnknownStrategyError struct {
	Strategy Strategy
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("polling: unknown strategy %T", e.Strategy)
}

// ErrorType implements errors.ErrorClassifier.
func (e *UnknownStrategyError) ErrorType() string { return "unknown_strategy" }

// IsRetryable implements errors.ErrorClassifier.
func (e *UnknownStrategyError) IsRetryable() bool { return false }

// CursorDecodeError is returned when a stored cursor cannot be decoded,
// usually because the key was written by something other than the engine.
type CursorDecodeError struct {
	Key   string
	Cause error
}

func (e *CursorDecodeError) Error() string {
	return fmt.Sprintf("polling: decode cursor %q: %v", e.Key, e.Cause)
}

func (e *CursorDecodeError) Unwrap() error { return e.Cause }

// ErrorType implements errors.ErrorClassifier.
func (e *CursorDecodeError) ErrorType() string { return "corrupt_cursor" }

// IsRetryable implements errors.ErrorClassifier.
func (e *CursorDecodeError) IsRetryable() bool { return false }
