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

import "errors"

// Classify returns the error type and retryability of err, looking through
// wrapped errors for an ErrorClassifier. Unclassified errors are reported as
// "unknown" and retryable.
func Classify(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorType(), classifier.IsRetryable()
	}
	return "unknown", true
}

// Suggestion returns the hint of the first UserVisibleError in err's chain,
// or "" when there is none or it is not meant for users.
//
//	if s := errors.Suggestion(err); s != "" {
//	    fmt.Fprintln(os.Stderr, "Suggestion:", s)
//	}
func Suggestion(err error) string {
	var visible UserVisibleError
	if !errors.As(err, &visible) || !visible.IsUserVisible() {
		return ""
	}
	return visible.Suggestion()
}
