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

func newPollCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <name>",
		Short: "Poll a trigger once",
		Long: `Poll a trigger once, advancing its cursor and delivering new items to the
configured sink.

A trigger that has never been armed is armed first; the first poll after
arming only reports items newer than the arming point. Paused and disabled
triggers are rejected; run 'pollgate triggers enable <name>' first.`,
		Example:           `  pollgate triggers poll jira-bugs`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTriggerNames,
		RunE:              runPoll,
	}

	return cmd
}

func runPoll(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	return shared.WithController(ctx, func(c *controller.Controller) error {
		if err := c.RegisterTrigger(ctx, name, false); err != nil {
			return err
		}
		result, err := c.Service().PollNow(ctx, name)
		if err != nil {
			return err
		}
		return emitPollResult(cmd, result)
	})
}

func emitPollResult(cmd *cobra.Command, result *polltrigger.PollResult) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.WriteJSON(out, struct {
			shared.JSONResponse
			*polltrigger.PollResult
		}{
			JSONResponse: shared.OK("triggers poll"),
			PollResult:   result,
		})
	}

	fmt.Fprintf(out, "Polled %s in %s: %d new item(s)\n", result.Trigger, result.Duration, len(result.Events))
	for _, ev := range result.Events {
		fmt.Fprintf(out, "  %s\n", ev.ID)
	}
	if result.SinkErrors > 0 {
		fmt.Fprintf(out, "Warning: %d event(s) were not accepted by the sink\n", result.SinkErrors)
	}
	return nil
}
