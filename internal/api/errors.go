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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	var (
		notFound   *pgerrors.NotFoundError
		validation *pgerrors.ValidationError
		missing    *polling.MissingCursorError
		backoff    *polltrigger.BackoffError
		inactive   *polltrigger.InactiveError
		upstream   *pgerrors.UpstreamError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &missing), errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &inactive):
		return http.StatusConflict
	case errors.As(err, &backoff):
		return http.StatusTooManyRequests
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusForError(err)

	var backoff *polltrigger.BackoffError
	if errors.As(err, &backoff) {
		seconds := math.Ceil(time.Until(backoff.Until).Seconds())
		if seconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(seconds)))
		}
	}

	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed",
			slog.String("path", req.URL.Path),
			slog.String("error", polltrigger.SanitizeErrorMessage(err)))
	}

	errorType, _ := pgerrors.Classify(err)
	if status == http.StatusNotFound {
		errorType = "not_found"
	}
	writeJSON(w, status, ErrorResponse{
		Error:      polltrigger.SanitizeErrorMessage(err),
		Type:       errorType,
		Suggestion: pgerrors.Suggestion(err),
		RequestID:  middleware.GetReqID(req.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
