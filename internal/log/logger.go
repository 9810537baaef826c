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

// Package log configures structured logging for pollgate.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Format is the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace sits below Debug and is used for item payload dumps.
const LevelTrace = slog.Level(-8)

// Field keys shared by every component.
const (
	TriggerKey  = "trigger_id"
	PieceKey    = "piece"
	StrategyKey = "strategy"
	DurationKey = "duration_ms"
	EventKey    = "event_id"
)

var levels = map[string]slog.Level{
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Config selects level, encoding and destination.
type Config struct {
	// Level is one of trace, debug, info, warn or error.
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig logs JSON at info to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: os.Stderr}
}

// FromEnv returns DefaultConfig with ApplyEnv applied.
func FromEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overlays the environment on cfg:
//
//	POLLGATE_DEBUG      debug level with source locations, overrides both levels
//	POLLGATE_LOG_LEVEL  preferred over LOG_LEVEL
//	LOG_LEVEL
//	LOG_FORMAT          json or text
//	LOG_SOURCE          add source locations
func ApplyEnv(cfg *Config) {
	switch {
	case envBool("POLLGATE_DEBUG"):
		cfg.Level = "debug"
		cfg.AddSource = true
	case os.Getenv("POLLGATE_LOG_LEVEL") != "":
		cfg.Level = strings.ToLower(os.Getenv("POLLGATE_LOG_LEVEL"))
	case os.Getenv("LOG_LEVEL") != "":
		cfg.Level = strings.ToLower(os.Getenv("LOG_LEVEL"))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if envBool("LOG_SOURCE") {
		cfg.AddSource = true
	}
}

func envBool(name string) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && b
}

// New builds a logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: renameTraceLevel,
	}
	if cfg.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// renameTraceLevel prints LevelTrace as TRACE rather than DEBUG-4.
func renameTraceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// ParseLevel maps a level name, case-insensitively. Unknown names are info.
func ParseLevel(level string) slog.Level {
	if lvl, ok := levels[strings.ToLower(level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithTrigger tags logger with the trigger, its piece and dedup strategy.
func WithTrigger(logger *slog.Logger, triggerID, piece, strategy string) *slog.Logger {
	return logger.With(
		slog.String(TriggerKey, triggerID),
		slog.String(PieceKey, piece),
		slog.String(StrategyKey, strategy),
	)
}

func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// SanitizeAPIKey keeps the last four characters of key. Keys of four
// characters or fewer are fully redacted.
func SanitizeAPIKey(key string) string {
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return "..." + key[len(key)-4:]
}

// Trace logs at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	logger.LogAttrs(context.Background(), LevelTrace, msg, attrs...)
}
