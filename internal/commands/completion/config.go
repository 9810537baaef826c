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

package completion

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/config"
)

// SecurePermissions reports whether path is unreadable by group and others.
// A missing file counts as secure; the caller finds out when it loads it.
func SecurePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm()&0077 == 0
}

// completionConfig loads the config the CLI would use. It returns nil
// without an error when there is no config file or the file is readable by
// others, since it may hold credentials.
func completionConfig() (*config.Config, error) {
	path := shared.ResolveConfigPath()
	if path == "" || !SecurePermissions(path) {
		return nil, nil
	}
	return config.Load(path)
}

// safeComplete runs fn and turns panics and nil results into an empty,
// file-completion-free answer. Completion must never crash the shell.
func safeComplete(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	defer func() {
		if r := recover(); r != nil {
			results, directive = []string{}, cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
