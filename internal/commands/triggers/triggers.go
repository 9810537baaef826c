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

package triggers

import (
	"github.com/spf13/cobra"
)

// NewTriggersCommand creates the triggers command group.
func NewTriggersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Inspect and manage poll triggers",
		Long: `Inspect and manage the poll triggers declared in the config file.

These commands operate directly on the cursor store. Running them while the
server is polling the same store is safe for read-only commands; lifecycle
changes made here take effect on the server at its next restart. Use the
HTTP API to change triggers on a running server.

Subcommands:
  list     - List configured triggers and their state
  show     - Show one trigger's state and cursor
  test     - Fetch a sample of items without touching state
  poll     - Poll once and deliver new items to the sink
  enable   - Arm a trigger, or resume a paused one
  disable  - Stop a trigger, optionally purging its state
  reset    - Purge a trigger's state so it re-arms from now`,
		Annotations: map[string]string{
			"group": "triggers",
		},
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newTestCommand())
	cmd.AddCommand(newPollCommand())
	cmd.AddCommand(newEnableCommand())
	cmd.AddCommand(newDisableCommand())
	cmd.AddCommand(newResetCommand())

	return cmd
}
