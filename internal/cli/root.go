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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/config"
	"github.com/tombee/pollgate/internal/commands/run"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/commands/triggers"
	"github.com/tombee/pollgate/internal/commands/version"
)

// BuildInfo is the version data injected at link time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCommand creates the pollgate command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	shared.SetVersion(info.Version, info.Commit, info.BuildDate)

	cmd := &cobra.Command{
		Use:   "pollgate",
		Short: "Turn polled APIs into deduplicated event streams",
		Long: `pollgate turns APIs that can only be polled into event streams. Each
trigger polls an item source on an interval, remembers how far it has
read, and delivers only items it has not delivered before.

Run 'pollgate run' to start the server.
Run 'pollgate triggers list' to see configured triggers and their state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, jsonOut, configPath := shared.RegisterFlagPointers()
	flags := cmd.PersistentFlags()
	flags.BoolVarP(verbose, "verbose", "v", false, "Log to stderr while running commands")
	flags.BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	flags.BoolVar(jsonOut, "json", false, "Output in JSON format")
	flags.StringVar(configPath, "config", "", "Path to config file (default: $POLLGATE_CONFIG or ~/.config/pollgate/config.yaml)")

	cmd.AddCommand(
		run.NewCommand(),
		triggers.NewTriggersCommand(),
		config.NewConfigCommand(),
		completion.NewCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

// Execute runs the command tree against os.Args and exits with the code
// that matches the failure.
func Execute(info BuildInfo) {
	if err := NewRootCommand(info).Execute(); err != nil {
		shared.HandleExitError(err)
	}
}
