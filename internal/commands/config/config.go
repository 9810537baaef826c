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
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/pollgate/internal/commands/shared"
	"github.com/tombee/pollgate/internal/config"
	internallog "github.com/tombee/pollgate/internal/log"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
		Long: `View and validate pollgate configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the config and every trigger declaration`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runConfigShow

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand
func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration: file values merged over defaults,
with environment overrides applied.

Credentials, passwords and connection strings are masked.
Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}

	return cmd
}

// newConfigPathCommand creates the 'config path' subcommand
func newConfigPathCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long: `Display the path to the configuration file that commands will load:
the --config flag, then POLLGATE_CONFIG, then the default location.`,
		RunE: runConfigPath,
	}

	return cmd
}

// runConfigShow displays the current configuration
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgPath := shared.ResolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return shared.NewConfigError("failed to load config", err)
	}

	masked := maskSensitiveConfig(cfg)

	if shared.GetJSON() {
		return outputConfigJSON(cmd.OutOrStdout(), masked)
	}
	if cfgPath == "" {
		cfgPath = "(defaults and environment only)"
	}
	return outputConfigYAML(cmd.OutOrStdout(), cfgPath, masked)
}

// runConfigPath displays the config file path
func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath := shared.ResolveConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	return nil
}

// maskSensitiveConfig creates a copy of config with sensitive values masked
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg

	if len(cfg.Credentials) > 0 {
		masked.Credentials = make(map[string]config.Credential, len(cfg.Credentials))
		for name, cred := range cfg.Credentials {
			masked.Credentials[name] = config.Credential{
				Token:    maskSecret(cred.Token),
				Username: cred.Username,
				Password: maskSecret(cred.Password),
			}
		}
	}

	masked.Store.Redis.Password = maskSecret(cfg.Store.Redis.Password)
	masked.Store.Postgres.ConnectionString = maskConnectionString(cfg.Store.Postgres.ConnectionString)
	masked.Sink.NATS.URL = maskConnectionString(cfg.Sink.NATS.URL)

	if len(cfg.Sink.Webhook.Headers) > 0 {
		masked.Sink.Webhook.Headers = make(map[string]string, len(cfg.Sink.Webhook.Headers))
		for k, v := range cfg.Sink.Webhook.Headers {
			masked.Sink.Webhook.Headers[k] = maskSecret(v)
		}
	}

	return &masked
}

// maskSecret masks a secret for display
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return internallog.SanitizeAPIKey(secret)
}

// maskConnectionString hides the password in a URL-style connection string.
func maskConnectionString(conn string) string {
	if conn == "" {
		return ""
	}
	u, err := url.Parse(conn)
	if err != nil || u.User == nil {
		return conn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// outputConfigJSON outputs config in JSON format
func outputConfigJSON(w io.Writer, cfg *config.Config) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}

// outputConfigYAML outputs config in YAML format
func outputConfigYAML(w io.Writer, path string, cfg *config.Config) error {
	fmt.Fprintf(w, "Configuration: %s\n", path)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}
