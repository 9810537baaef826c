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

package shared

import (
	"errors"
	"fmt"
	"os"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitFailed        = 1
	ExitInvalidConfig = 2
	ExitNotFound      = 3
	ExitUpstreamError = 4
	ExitNoCursor      = 5
)

// ExitError is an error with an associated exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExitError wraps cause with the exit code that matches its type.
func NewExitError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitCodeFor(cause),
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for an invalid or unreadable config.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCodeFor maps an error chain to an exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	var configErr *pgerrors.ConfigError
	var validationErr *pgerrors.ValidationError
	var notFoundErr *pgerrors.NotFoundError
	var upstreamErr *pgerrors.UpstreamError
	var backoffErr *polltrigger.BackoffError
	var cursorErr *polling.MissingCursorError

	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &configErr), errors.As(err, &validationErr):
		return ExitInvalidConfig
	case errors.As(err, &notFoundErr):
		return ExitNotFound
	case errors.As(err, &upstreamErr), errors.As(err, &backoffErr):
		return ExitUpstreamError
	case errors.As(err, &cursorErr):
		return ExitNoCursor
	}
	return ExitFailed
}

// HandleExitError prints err and exits with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	msg := polltrigger.SanitizeErrorMessage(err)
	if GetJSON() {
		_ = WriteJSONError(os.Stdout, "", JSONError{
			Code:       ErrorCodeFor(err),
			Message:    msg,
			Suggestion: pgerrors.Suggestion(err),
		})
	} else {
		fmt.Fprintln(os.Stderr, "Error:", msg)
		if s := pgerrors.Suggestion(err); s != "" {
			fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
		}
	}

	os.Exit(ExitCodeFor(err))
}
