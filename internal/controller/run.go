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

package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/pollgate/internal/config"
	internallog "github.com/tombee/pollgate/internal/log"
)

// RunOptions configures a foreground server run.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the YAML config file. Empty uses defaults and the
	// environment only.
	ConfigPath string

	// Override adjusts the loaded config before it is validated again,
	// typically from command-line flags.
	Override func(*config.Config)
}

// Run loads configuration, starts the controller and serves until ctx is
// cancelled. Shutdown is bounded by server.shutdown_timeout.
func Run(ctx context.Context, opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Override != nil {
		opts.Override(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
	}

	c, err := New(ctx, cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	slog.SetDefault(c.logger)

	c.logger.Info("starting pollgate",
		slog.String("version", opts.Version),
		slog.String("commit", opts.Commit),
		slog.String("store", cfg.Store.Backend),
		slog.Int("triggers", len(cfg.Triggers)))

	runErr := c.Start(ctx)
	if runErr != nil {
		c.logger.Error("controller stopped", internallog.Error(runErr))
	} else {
		c.logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("shutdown incomplete", internallog.Error(err))
		if runErr == nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return runErr
}
