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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/controller"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
	"github.com/tombee/pollgate/pkg/polling"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List poll triggers and their state",
		Long: `List every trigger declared in the config with its stored state.

Shows the piece, dedup strategy, phase, error count and last poll time for
each trigger. Triggers whose declaration is invalid are listed with the
validation error.`,
		Example: `  # List triggers in table format
  pollgate triggers list

  # Get triggers as JSON for scripting
  pollgate triggers list --json`,
		Args: cobra.NoArgs,
		RunE: runList,
	}

	return cmd
}

// TriggerInfo contains display information for a trigger.
type TriggerInfo struct {
	Name       string       `json:"name"`
	Piece      string       `json:"piece"`
	Strategy   polling.Kind `json:"strategy,omitempty"`
	Phase      string       `json:"phase"`
	Interval   string       `json:"interval"`
	ErrorCount int          `json:"error_count"`
	LastPoll   string       `json:"last_poll"`
	Error      string       `json:"error,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var infos []TriggerInfo
	err := shared.WithController(ctx, func(c *controller.Controller) error {
		infos = collectInfos(cmd, c)
		return nil
	})
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.WriteJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			Triggers []TriggerInfo `json:"triggers"`
		}{
			JSONResponse: shared.OK("triggers list"),
			Triggers:     infos,
		})
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No triggers configured.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPIECE\tSTRATEGY\tPHASE\tINTERVAL\tERRORS\tLAST POLL")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			info.Name, info.Piece, info.Strategy, info.Phase, info.Interval, info.ErrorCount, info.LastPoll)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%s: %s", info.Name, info.Error)
		}
	}
	return nil
}

func collectInfos(cmd *cobra.Command, c *controller.Controller) []TriggerInfo {
	ctx := cmd.Context()
	svc := c.Service()

	var infos []TriggerInfo
	for _, t := range c.Config().Triggers {
		info := TriggerInfo{
			Name:     t.Name,
			Piece:    t.Piece,
			Interval: c.Config().IntervalFor(t).String(),
			LastPoll: "never",
		}

		if err := c.RegisterTrigger(ctx, t.Name, true); err != nil {
			info.Phase = "invalid"
			info.Error = polltrigger.SanitizeErrorMessage(err)
			infos = append(infos, info)
			continue
		}

		st, err := svc.Status(ctx, t.Name)
		if err != nil {
			info.Phase = "unknown"
			info.Error = polltrigger.SanitizeErrorMessage(err)
			infos = append(infos, info)
			continue
		}

		info.Strategy = st.Strategy
		info.Phase = string(st.Phase)
		info.ErrorCount = st.ErrorCount
		info.LastPoll = formatTime(st.LastPollAt)
		infos = append(infos, info)
	}
	return infos
}
