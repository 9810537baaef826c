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

// Global flag values, bound by the root command.
var globals struct {
	verbose bool
	quiet   bool
	json    bool
	config  string
}

// Build information, set from main through the cli package.
var build = struct {
	version, commit, date string
}{"dev", "unknown", "unknown"}

// RegisterFlagPointers returns the verbose, quiet, json and config flag
// targets for the root command to bind.
func RegisterFlagPointers() (verbose, quiet, json *bool, config *string) {
	return &globals.verbose, &globals.quiet, &globals.json, &globals.config
}

// SetVersion records build information.
func SetVersion(version, commit, date string) {
	build.version, build.commit, build.date = version, commit, date
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return build.version, build.commit, build.date
}

func GetVerbose() bool      { return globals.verbose }
func GetQuiet() bool        { return globals.quiet }
func GetJSON() bool         { return globals.json }
func GetConfigPath() string { return globals.config }

// SetConfigPathForTest overrides --config.
func SetConfigPathForTest(path string) { globals.config = path }

// SetJSONForTest overrides --json.
func SetJSONForTest(enabled bool) { globals.json = enabled }
