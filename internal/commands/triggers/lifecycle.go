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
	"context"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
)

func newEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Arm a trigger or resume a paused one",
		Long: `Enable arms a trigger that has never been armed or was reset, recording
the current position as its baseline. A trigger paused by repeated errors
or disabled with its cursor kept resumes from where it stopped.`,
		Example:           `  pollgate triggers enable jira-bugs`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle(cmd, args[0], "triggers enable", func(ctx context.Context, svc *polltrigger.Service, name string) error {
				return svc.Enable(ctx, name)
			})
		},
	}
}

func newDisableCommand() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "disable <name>",
		Short: "Stop polling a trigger",
		Long: `Disable stops polling a trigger. The cursor is kept so a later enable
resumes without missing items, unless --purge is given.`,
		Example: `  # Stop polling, keep the cursor
  pollgate triggers disable jira-bugs

  # Stop polling and forget all state
  pollgate triggers disable jira-bugs --purge`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle(cmd, args[0], "triggers disable", func(ctx context.Context, svc *polltrigger.Service, name string) error {
				return svc.Disable(ctx, name, purge)
			})
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Delete the trigger's cursor and status")

	return cmd
}

// lifecycle registers name passively, applies op and prints the result.
func lifecycle(cmd *cobra.Command, name, command string, op func(context.Context, *polltrigger.Service, string) error) error {
	ctx := cmd.Context()

	return shared.WithController(ctx, func(c *controller.Controller) error {
		if err := c.RegisterTrigger(ctx, name, true); err != nil {
			return err
		}
		if err := op(ctx, c.Service(), name); err != nil {
			return err
		}
		if shared.GetQuiet() && !shared.GetJSON() {
			return nil
		}
		st, err := c.Service().Status(ctx, name)
		if err != nil {
			return err
		}
		return emitStatus(cmd.OutOrStdout(), command, st)
	})
}
