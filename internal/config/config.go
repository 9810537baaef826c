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

// Package config loads pollgate configuration from YAML and the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tombee/pollgate/internal/secrets"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
)

// Config represents the complete pollgate configuration.
type Config struct {
	Log         LogConfig             `yaml:"log"`
	Store       StoreConfig           `yaml:"store"`
	Server      ServerConfig          `yaml:"server"`
	Sink        SinkConfig            `yaml:"sink"`
	Polling     PollingConfig         `yaml:"polling"`
	Tracing     TracingConfig         `yaml:"tracing"`
	Credentials map[string]Credential `yaml:"credentials" validate:"dive"`
	Triggers    []TriggerConfig       `yaml:"triggers" validate:"dive"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"oneof=trace debug info warn warning error"`

	// Format sets the output format (json, text).
	Format string `yaml:"format" validate:"oneof=json text"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// StoreConfig selects and configures the cursor store backend.
type StoreConfig struct {
	// Backend is one of memory, sqlite, redis, postgres.
	Backend string `yaml:"backend" validate:"oneof=memory sqlite redis postgres"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	ConnectionString string `yaml:"connection_string"`
	MaxConns         int32  `yaml:"max_conns" validate:"min=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the address the API binds to. Empty disables the API.
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// SinkConfig selects where fired trigger events go.
type SinkConfig struct {
	// Type is one of stdout, webhook, nats.
	Type string `yaml:"type" validate:"oneof=stdout webhook nats"`

	Webhook WebhookSinkConfig `yaml:"webhook"`
	NATS    NATSSinkConfig    `yaml:"nats"`
}

// WebhookSinkConfig configures HTTP delivery of events.
type WebhookSinkConfig struct {
	URL        string            `yaml:"url" validate:"omitempty,url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout" validate:"min=0"`
	RetryCount int               `yaml:"retry_count" validate:"min=0,max=10"`
}

// NATSSinkConfig configures publishing events to NATS.
type NATSSinkConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// PollingConfig holds defaults shared by all poll triggers.
type PollingConfig struct {
	// DefaultInterval applies to triggers that do not set their own.
	DefaultInterval time.Duration `yaml:"default_interval" validate:"gt=0"`

	// MinInterval is the floor for any trigger interval.
	MinInterval time.Duration `yaml:"min_interval" validate:"gt=0"`

	// Timeout bounds a single poll, including the item source call.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// PurgeOnDisable deletes cursor state when a trigger is disabled.
	PurgeOnDisable bool `yaml:"purge_on_disable"`

	// MaxConsecutiveErrors pauses a trigger after this many failed polls.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" validate:"min=1"`

	// RateLimit is the sustained number of source requests per second
	// allowed per piece.
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`

	// Exporter is "none" or "stdout".
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=none stdout"`

	// SampleRate keeps this fraction of poll traces. Zero keeps all.
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`

	// AlwaysSampleErrors keeps traces of failing triggers when sampling.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// Credential is a named secret referenced by triggers. Values may be
// literals or env:, file: and ${VAR} references, resolved at load time.
type Credential struct {
	// Token is a bearer or API token.
	Token string `yaml:"token"`

	// Username and Password are used for basic auth.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TriggerConfig declares one poll trigger.
type TriggerConfig struct {
	Name  string `yaml:"name" validate:"required,max=64"`
	Piece string `yaml:"piece" validate:"required"`

	// Credentials names an entry in the credentials section.
	Credentials string `yaml:"credentials"`

	// Interval overrides polling.default_interval.
	Interval time.Duration `yaml:"interval" validate:"min=0"`

	// MaxItemsToPoll caps items per poll for last-item pieces. Zero is unset.
	MaxItemsToPoll int `yaml:"max_items_to_poll" validate:"min=0"`

	// Disabled keeps the trigger registered but unscheduled.
	Disabled bool `yaml:"disabled"`

	// Config is passed to the piece unchanged.
	Config map[string]interface{} `yaml:"config"`

	// InputMapping maps event input names to expressions over the payload.
	InputMapping map[string]string `yaml:"input_mapping"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			SQLite: SQLiteConfig{
				Path: filepath.Join(defaultDataDir(), "pollgate.db"),
				WAL:  true,
			},
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:9470",
			ShutdownTimeout: 10 * time.Second,
		},
		Sink: SinkConfig{
			Type: "stdout",
			Webhook: WebhookSinkConfig{
				Timeout:    10 * time.Second,
				RetryCount: 2,
			},
			NATS: NATSSinkConfig{
				Subject: "pollgate.events",
			},
		},
		Polling: PollingConfig{
			DefaultInterval:      5 * time.Minute,
			MinInterval:          10 * time.Second,
			Timeout:              30 * time.Second,
			MaxConsecutiveErrors: 10,
			RateLimit:            1,
		},
		Tracing: TracingConfig{
			ServiceName: "pollgate",
			Exporter:    "none",
		},
	}
}

// Load loads configuration from an optional YAML file and the environment.
// Environment variables take precedence over file-based configuration.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &pgerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()
	if err := cfg.resolveCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &pgerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values so minimal configs work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = defaults.Store.SQLite.Path
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Sink.Type == "" {
		c.Sink.Type = defaults.Sink.Type
	}
	if c.Sink.Webhook.Timeout == 0 {
		c.Sink.Webhook.Timeout = defaults.Sink.Webhook.Timeout
	}
	if c.Sink.NATS.Subject == "" {
		c.Sink.NATS.Subject = defaults.Sink.NATS.Subject
	}
	if c.Polling.DefaultInterval == 0 {
		c.Polling.DefaultInterval = defaults.Polling.DefaultInterval
	}
	if c.Polling.MinInterval == 0 {
		c.Polling.MinInterval = defaults.Polling.MinInterval
	}
	if c.Polling.Timeout == 0 {
		c.Polling.Timeout = defaults.Polling.Timeout
	}
	if c.Polling.MaxConsecutiveErrors == 0 {
		c.Polling.MaxConsecutiveErrors = defaults.Polling.MaxConsecutiveErrors
	}
	if c.Polling.RateLimit == 0 {
		c.Polling.RateLimit = defaults.Polling.RateLimit
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("POLLGATE_STORE_BACKEND"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("POLLGATE_STORE_PATH"); val != "" {
		c.Store.SQLite.Path = val
	}
	if val := os.Getenv("POLLGATE_REDIS_ADDR"); val != "" {
		c.Store.Redis.Addr = val
	}
	if val := os.Getenv("POLLGATE_POSTGRES_URL"); val != "" {
		c.Store.Postgres.ConnectionString = val
	}

	if val := os.Getenv("POLLGATE_LISTEN"); val != "" {
		c.Server.Listen = val
	}

	if val := os.Getenv("POLLGATE_SINK"); val != "" {
		c.Sink.Type = strings.ToLower(val)
	}
	if val := os.Getenv("POLLGATE_WEBHOOK_URL"); val != "" {
		c.Sink.Webhook.URL = val
	}
	if val := os.Getenv("POLLGATE_NATS_URL"); val != "" {
		c.Sink.NATS.URL = val
	}

	if val := os.Getenv("POLLGATE_POLL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Polling.Timeout = d
		}
	}
	if val := os.Getenv("POLLGATE_PURGE_ON_DISABLE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Polling.PurgeOnDisable = b
		}
	}

	if val := os.Getenv("POLLGATE_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("POLLGATE_TRACING_SAMPLE_RATE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Tracing.SampleRate = f
		}
	}
}

func (c *Config) resolveCredentials() error {
	reg := secrets.Default()
	ctx := context.Background()
	for name, cred := range c.Credentials {
		for _, field := range []*string{&cred.Token, &cred.Username, &cred.Password} {
			value, err := reg.Resolve(ctx, *field)
			if err != nil {
				return &pgerrors.ConfigError{
					Key:    "credentials." + name,
					Reason: "failed to resolve secret reference",
					Cause:  err,
				}
			}
			*field = value
		}
		c.Credentials[name] = cred
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, describeFieldError(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required for the sqlite backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, "store.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.Postgres.ConnectionString == "" {
			errs = append(errs, "store.postgres.connection_string is required for the postgres backend")
		}
	}

	switch c.Sink.Type {
	case "webhook":
		if c.Sink.Webhook.URL == "" {
			errs = append(errs, "sink.webhook.url is required for the webhook sink")
		}
	case "nats":
		if c.Sink.NATS.URL == "" || c.Sink.NATS.Subject == "" {
			errs = append(errs, "sink.nats.url and sink.nats.subject are required for the nats sink")
		}
	}

	if c.Polling.MinInterval > 0 && c.Polling.DefaultInterval > 0 && c.Polling.DefaultInterval < c.Polling.MinInterval {
		errs = append(errs, fmt.Sprintf("polling.default_interval %v is below polling.min_interval %v", c.Polling.DefaultInterval, c.Polling.MinInterval))
	}

	seen := make(map[string]bool, len(c.Triggers))
	for i, t := range c.Triggers {
		if t.Name != "" {
			if seen[t.Name] {
				errs = append(errs, fmt.Sprintf("triggers[%d]: duplicate trigger name %q", i, t.Name))
			}
			seen[t.Name] = true
		}
		if t.Credentials != "" {
			if _, ok := c.Credentials[t.Credentials]; !ok {
				errs = append(errs, fmt.Sprintf("triggers[%d]: credentials %q not found in credentials %v", i, t.Credentials, keysOf(c.Credentials)))
			}
		}
		if t.Interval > 0 && t.Interval < c.Polling.MinInterval {
			errs = append(errs, fmt.Sprintf("triggers[%d]: interval %v is below polling.min_interval %v", i, t.Interval, c.Polling.MinInterval))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// CheckPieces reports triggers that name a piece not in known.
func (c *Config) CheckPieces(known []string) error {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	for _, t := range c.Triggers {
		if !set[t.Piece] {
			return &pgerrors.ValidationError{
				Field:   "triggers." + t.Name + ".piece",
				Message: fmt.Sprintf("unknown piece %q", t.Piece),
				Hint:    fmt.Sprintf("available pieces: %s", strings.Join(known, ", ")),
			}
		}
	}
	return nil
}

// Trigger returns the trigger named name.
func (c *Config) Trigger(name string) (TriggerConfig, bool) {
	for _, t := range c.Triggers {
		if t.Name == name {
			return t, true
		}
	}
	return TriggerConfig{}, false
}

// IntervalFor returns the effective poll interval of t.
func (c *Config) IntervalFor(t TriggerConfig) time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return c.Polling.DefaultInterval
}

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", path)
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
	}
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
