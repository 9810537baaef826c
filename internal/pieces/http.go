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

package pieces

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	pgerrors "github.com/tombee/pollgate/pkg/errors"
)

// DefaultTimeout bounds a single item source request.
const DefaultTimeout = 10 * time.Second

// NewClient returns the HTTP client pieces share.
func NewClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pollgate")
}

// CheckResponse converts a transport error or a non-2xx response into an
// *errors.UpstreamError. It returns nil for successful responses.
func CheckResponse(piece string, resp *resty.Response, err error) error {
	if err != nil {
		return &pgerrors.UpstreamError{
			Source:  piece,
			Message: "request failed",
			Cause:   fmt.Errorf("%s", RedactSecrets(err.Error())),
		}
	}
	if resp.IsSuccess() {
		return nil
	}

	code := resp.StatusCode()
	upstream := &pgerrors.UpstreamError{
		Source:     piece,
		StatusCode: code,
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		upstream.Message = "authentication failed, credentials may be invalid or expired"
	case code == http.StatusTooManyRequests:
		upstream.Message = "rate limit exceeded"
		upstream.RetryAfter = ParseRetryAfter(resp.Header().Get("Retry-After"), time.Now())
	case code >= 500:
		upstream.Message = "server error"
		upstream.RetryAfter = ParseRetryAfter(resp.Header().Get("Retry-After"), time.Now())
	default:
		upstream.Message = fmt.Sprintf("unexpected status %d", code)
	}
	return upstream
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the header is absent or unparseable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// RedactSecrets removes auth material that transports sometimes echo in
// error messages.
func RedactSecrets(msg string) string {
	for _, marker := range []string{"Token token=", "Bearer ", "Basic "} {
		for {
			i := strings.Index(msg, marker)
			if i < 0 {
				break
			}
			end := i + len(marker)
			for end < len(msg) && msg[end] != ' ' && msg[end] != '"' && msg[end] != '&' {
				end++
			}
			msg = msg[:i] + "[REDACTED]" + msg[end:]
		}
	}
	return msg
}
