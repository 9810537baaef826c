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

package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/pollgate/internal/commands/completion"
	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller"
	"github.com/tombee/pollgate/internal/controller/listener"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file and every trigger declaration.

Checks performed:
  - YAML syntax and field constraints
  - Every trigger names a known piece with a valid piece config
  - Referenced credentials exist and have the fields the piece needs
  - Input mapping expressions compile

No item source, store or sink is contacted.

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  pollgate config validate

  # Validate with warnings as errors
  pollgate config validate --strict

  # Get validation result as JSON
  pollgate config validate --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// runValidate performs configuration validation.
func runValidate(cmd *cobra.Command, strict bool) error {
	path := shared.ResolveConfigPath()
	result := validate(cmd.Context(), path)

	if strict && len(result.Warnings) > 0 {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	result.Valid = len(result.Errors) == 0

	if shared.GetJSON() {
		if err := shared.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), path, result)
	}

	if !result.Valid {
		return &shared.ExitError{
			Code:    shared.ExitInvalidConfig,
			Message: fmt.Sprintf("configuration has %d error(s)", len(result.Errors)),
		}
	}
	return nil
}

func validate(ctx context.Context, path string) ValidationResult {
	var result ValidationResult

	cfg, err := config.Load(path)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if path != "" && !completion.SecurePermissions(path) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s is readable by other users; it may contain credentials (chmod 600)", path))
	}
	if cfg.Server.Listen != "" && listener.IsRemote(cfg.Server.Listen) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("server.listen %s accepts remote connections and the API has no authentication", cfg.Server.Listen))
	}
	result.Warnings = append(result.Warnings, triggerWarnings(cfg)...)

	// Register every trigger against an in-memory store and a discarding
	// sink so piece, credential and mapping checks run without I/O.
	offline := *cfg
	offline.Store = config.StoreConfig{Backend: "memory"}
	c, err := controller.New(ctx, &offline, controller.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   discardSink{},
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	defer c.Shutdown(context.WithoutCancel(ctx))

	for _, t := range cfg.Triggers {
		if err := c.RegisterTrigger(ctx, t.Name, true); err != nil {
			result.Errors = append(result.Errors, polltrigger.SanitizeErrorMessage(err))
		}
	}

	return result
}

func triggerWarnings(cfg *config.Config) []string {
	var warnings []string
	used := make(map[string]bool)

	for _, t := range cfg.Triggers {
		if t.Credentials != "" {
			used[t.Credentials] = true
		}
		if t.Disabled {
			warnings = append(warnings, fmt.Sprintf("trigger %s is disabled", t.Name))
		}
		if t.Interval > 0 && t.Interval < cfg.Polling.MinInterval {
			warnings = append(warnings, fmt.Sprintf("trigger %s interval %s is below polling.min_interval and will be raised to %s",
				t.Name, t.Interval, cfg.Polling.MinInterval))
		}
	}

	for name := range cfg.Credentials {
		if !used[name] {
			warnings = append(warnings, fmt.Sprintf("credential %s is not used by any trigger", name))
		}
	}

	return warnings
}

func printResult(w io.Writer, path string, result ValidationResult) {
	if path == "" {
		path = "(defaults and environment only)"
	}
	fmt.Fprintf(w, "Validating %s\n\n", path)

	for _, e := range result.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warn)
	}
	if len(result.Errors)+len(result.Warnings) > 0 {
		fmt.Fprintln(w)
	}

	if result.Valid {
		fmt.Fprintln(w, "Configuration is valid.")
	} else {
		fmt.Fprintln(w, "Configuration is invalid.")
	}
}

// discardSink accepts and drops events.
type discardSink struct{}

func (discardSink) Emit(context.Context, *polltrigger.TriggerEvent) error { return nil }
func (discardSink) Close() error                                          { return nil }
