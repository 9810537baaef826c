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
	"os"
	"strconv"

	"golang.org/x/term"
)

// NonInteractiveEnv forces non-interactive behaviour when set to a true value.
const NonInteractiveEnv = "POLLGATE_NON_INTERACTIVE"

// ciMarkers are set by common CI systems. JENKINS_HOME holds a path, the
// others a boolean.
var ciMarkers = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "CIRCLECI", "BUILDKITE", "JENKINS_HOME"}

// IsNonInteractive reports whether prompts must be skipped: the override
// variable is set, a CI system is detected, or stdin is not a terminal.
func IsNonInteractive() bool {
	if forced, err := strconv.ParseBool(os.Getenv(NonInteractiveEnv)); err == nil && forced {
		return true
	}
	return isCIEnvironment() || !term.IsTerminal(int(os.Stdin.Fd()))
}

func isCIEnvironment() bool {
	for _, name := range ciMarkers {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if name == "JENKINS_HOME" {
			return true
		}
		if on, err := strconv.ParseBool(value); err == nil && on {
			return true
		}
	}
	return false
}
