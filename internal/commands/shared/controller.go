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

package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller"
	internallog "github.com/tombee/pollgate/internal/log"
)

// ResolveConfigPath picks the config file: the --config flag, then
// POLLGATE_CONFIG, then the XDG default if it exists. An empty result means
// defaults and environment only.
func ResolveConfigPath() string {
	if p := GetConfigPath(); p != "" {
		return p
	}
	if p := os.Getenv("POLLGATE_CONFIG"); p != "" {
		return p
	}
	if p, err := config.ConfigPath(); err == nil {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadConfig loads configuration from the resolved path.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(ResolveConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load config", err)
	}
	return cfg, nil
}

// CommandLogger returns the logger for one-shot commands. Logs are
// discarded unless --verbose is set so command output stays readable.
func CommandLogger(cfg *config.Config) *slog.Logger {
	if !GetVerbose() {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return internallog.New(&internallog.Config{
		Level:  "debug",
		Format: internallog.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
}

// WithController loads config, builds a controller and runs fn with it.
// The controller is shut down when fn returns.
func WithController(ctx context.Context, fn func(*controller.Controller) error) (err error) {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	v, c, b := GetVersion()
	ctrl, err := controller.New(ctx, cfg, controller.Options{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		Logger:    CommandLogger(cfg),
	})
	if err != nil {
		return NewExitError("failed to initialize", err)
	}
	defer func() {
		err = errors.Join(err, ctrl.Shutdown(context.WithoutCancel(ctx)))
	}()

	return fn(ctrl)
}
