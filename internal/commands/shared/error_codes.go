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

// Error codes for structured JSON output
const (
	// Configuration errors (E001-E099)
	ErrorCodeInvalidConfig = "E001" // Config file or trigger declaration is invalid

	// Trigger errors (E100-E199)
	ErrorCodeNotFound = "E101" // Trigger or piece not found
	ErrorCodeNoCursor = "E102" // Trigger has not been armed

	// Upstream errors (E200-E299)
	ErrorCodeUpstream = "E201" // Item source failed or is rate limited

	ErrorCodeInternal = "E900"
)

// ErrorCodeFor maps an error chain to a JSON error code.
func ErrorCodeFor(err error) string {
	switch ExitCodeFor(err) {
	case ExitInvalidConfig:
		return ErrorCodeInvalidConfig
	case ExitNotFound:
		return ErrorCodeNotFound
	case ExitNoCursor:
		return ErrorCodeNoCursor
	case ExitUpstreamError:
		return ErrorCodeUpstream
	}
	return ErrorCodeInternal
}
