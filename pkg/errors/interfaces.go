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

// UserVisibleError is implemented by errors that carry a message and a fix
// meant for the person running pollgate.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether UserMessage and Suggestion apply.
	IsUserVisible() bool

	UserMessage() string

	// Suggestion is empty when there is nothing to suggest.
	Suggestion() string
}

// ErrorClassifier is implemented by errors that know their category. The
// poll trigger service labels error metrics with ErrorType, and the API
// reports it to clients.
type ErrorClassifier interface {
	error

	// ErrorType is a short snake_case category such as "missing_cursor",
	// "rate_limited", "auth" or "server".
	ErrorType() string

	IsRetryable() bool
}
