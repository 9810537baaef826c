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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller"
	"github.com/tombee/pollgate/pkg/polling"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <name>",
		Short: "Fetch sample items (dry-run)",
		Long: `Test a trigger by fetching a small sample of the items its piece
currently returns.

The cursor store is never read or written and no events are delivered, so
this is safe to run at any time, including before the trigger is armed.`,
		Example: `  # Preview what the jira-bugs trigger sees
  pollgate triggers test jira-bugs

  # Get the sample as JSON
  pollgate triggers test jira-bugs --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE:              runTest,
	}

	return cmd
}

func runTest(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	return shared.WithController(ctx, func(c *controller.Controller) error {
		if err := c.RegisterTrigger(ctx, name, true); err != nil {
			return err
		}
		items, err := c.Service().Test(ctx, name)
		if err != nil {
			return err
		}
		return emitItems(cmd, name, items)
	})
}

func emitItems(cmd *cobra.Command, name string, items []polling.Payload) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.WriteJSON(out, struct {
			shared.JSONResponse
			Trigger string            `json:"trigger"`
			Items   []polling.Payload `json:"items"`
		}{
			JSONResponse: shared.OK("triggers test"),
			Trigger:      name,
			Items:        items,
		})
	}

	fmt.Fprintf(out, "Sample items for %s: %d\n", name, len(items))
	for i, item := range items {
		data, err := json.MarshalIndent(item, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to format item %d: %w", i, err)
		}
		fmt.Fprintf(out, "\n  Item %d:\n  %s\n", i+1, data)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Note: This is a dry-run. No state was read or updated and no events were fired.")
	return nil
}
