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

package errors

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ValidationError reports bad input: a malformed trigger definition,
// piece config or credentials.
type ValidationError struct {
	Field   string
	Message string

	// Hint tells the user how to fix the input. Optional.
	Hint string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) IsUserVisible() bool { return true }
func (e *ValidationError) UserMessage() string { return e.Error() }
func (e *ValidationError) Suggestion() string  { return e.Hint }

// NotFoundError reports an unknown trigger, piece or similar resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// UpstreamError is a failure reported by the remote system a piece polls.
type UpstreamError struct {
	// Source is the piece name.
	Source     string
	StatusCode int

	// RetryAfter is the server's backoff hint, zero when absent.
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	b.WriteString(" upstream error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " [HTTP %d]", e.StatusCode)
	}
	for _, part := range []string{e.Message, causeText(e.Cause)} {
		if part != "" {
			b.WriteString(": ")
			b.WriteString(part)
		}
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// ErrorType buckets the failure by HTTP status. No status means the
// request never got a response.
func (e *UpstreamError) ErrorType() string {
	code := e.StatusCode
	switch {
	case code == 0:
		return "network"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return "auth"
	case code >= 500:
		return "server"
	}
	return "client"
}

// IsRetryable is false for auth and client errors, which need a config
// change before a retry can succeed.
func (e *UpstreamError) IsRetryable() bool {
	t := e.ErrorType()
	return t != "auth" && t != "client"
}

func (e *UpstreamError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ConfigError reports an unreadable or invalid configuration.
type ConfigError struct {
	// Key is the dotted config path, such as "store.backend".
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// TimeoutError reports an operation, such as a poll or a sink emit, that
// ran past its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
