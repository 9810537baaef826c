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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
)

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <name>",
		Short: "Reset trigger state",
		Long: `Reset the state of a trigger.

This deletes the stored cursor, status and error count. The trigger re-arms
from the current position the next time it is enabled or the server starts,
so items that appeared before then are never delivered.`,
		Example: `  # Reset state for a trigger
  pollgate triggers reset pagerduty-incidents

  # Reset without the confirmation prompt
  pollgate triggers reset slack-mentions --yes`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE:              runReset,
	}

	cmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	name := args[0]
	yes, _ := cmd.Flags().GetBool("yes")
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	return shared.WithController(ctx, func(c *controller.Controller) error {
		if err := c.RegisterTrigger(ctx, name, true); err != nil {
			return err
		}

		st, err := c.Service().Status(ctx, name)
		if err != nil {
			return err
		}
		if !st.Cursor.Set && st.Phase == polltrigger.PhaseUninitialized {
			fmt.Fprintf(out, "Trigger %q has no state to reset.\n", name)
			return nil
		}

		if !yes {
			if shared.IsNonInteractive() {
				return fmt.Errorf("refusing to reset %q without --yes in a non-interactive session", name)
			}

			fmt.Fprintf(out, "Current state for %q:\n", name)
			printStatus(out, st)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Reset deletes the cursor. Items that appear before the trigger is")
			fmt.Fprintln(out, "re-armed will not be delivered.")
			fmt.Fprintln(out)
			fmt.Fprint(out, "Continue? [y/N]: ")

			var response string
			fmt.Fscanln(cmd.InOrStdin(), &response)
			if response != "y" && response != "Y" && response != "yes" {
				fmt.Fprintln(out, "Reset cancelled.")
				return nil
			}
		}

		if err := c.Service().Reset(ctx, name); err != nil {
			return err
		}

		if !shared.GetQuiet() {
			fmt.Fprintf(out, "Successfully reset state for trigger %q\n", name)
		}
		return nil
	})
}
