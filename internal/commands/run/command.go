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

package run

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller"
)

// flags are the config overrides accepted by run.
type flags struct {
	listen string
	store  string
	sink   string
}

func (f flags) apply(cfg *config.Config) {
	if f.listen != "" {
		cfg.Server.Listen = f.listen
	}
	if f.store != "" {
		cfg.Store.Backend = f.store
	}
	if f.sink != "" {
		cfg.Sink.Type = f.sink
	}
}

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:         "run",
		Short:       "Run the poll trigger server",
		Annotations: map[string]string{"group": "server"},
		Long: `Run arms every configured trigger, polls each on its interval and hands
new items to the configured sink. An HTTP API for status and lifecycle
operations is served on server.listen.

Triggers armed by an earlier run resume from their stored cursor, so items
that appeared while the server was down arrive on the first poll.

SIGINT or SIGTERM stops the server. In-flight polls get
server.shutdown_timeout to finish.`,
		Example: `  # Default config (~/.config/pollgate/config.yaml)
  pollgate run

  # Explicit config and API address
  pollgate run --config ./pollgate.yaml --listen 127.0.0.1:9470

  # Throwaway run: in-memory cursors, events on stdout
  pollgate run --store memory --sink stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			v, c, b := shared.GetVersion()
			return controller.Run(ctx, controller.RunOptions{
				Version:    v,
				Commit:     c,
				BuildDate:  b,
				ConfigPath: shared.ResolveConfigPath(),
				Override:   f.apply,
			})
		},
	}

	cmd.Flags().StringVar(&f.listen, "listen", "", "API listen address (host:port or unix:///path)")
	cmd.Flags().StringVar(&f.store, "store", "", "Cursor store backend (memory, sqlite, redis, postgres)")
	cmd.Flags().StringVar(&f.sink, "sink", "", "Event sink (stdout, webhook, nats)")

	return cmd
}
