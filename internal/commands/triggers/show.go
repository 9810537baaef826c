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

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller"
)

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a trigger's state and cursor",
		Example: `  pollgate triggers show jira-bugs
  pollgate triggers show jira-bugs --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE:              runShow,
	}

	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	return shared.WithController(ctx, func(c *controller.Controller) error {
		if err := c.RegisterTrigger(ctx, name, true); err != nil {
			return err
		}
		st, err := c.Service().Status(ctx, name)
		if err != nil {
			return err
		}
		return emitStatus(cmd.OutOrStdout(), "triggers show", st)
	})
}
