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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tombee/pollgate/internal/api"
	"github.com/tombee/pollgate/internal/config"
	"github.com/tombee/pollgate/internal/controller/backend"
	"github.com/tombee/pollgate/internal/controller/listener"
	"github.com/tombee/pollgate/internal/controller/polltrigger"
	internallog "github.com/tombee/pollgate/internal/log"
	"github.com/tombee/pollgate/internal/pieces"
	"github.com/tombee/pollgate/internal/pieces/builtin"
	"github.com/tombee/pollgate/internal/sink"
	"github.com/tombee/pollgate/internal/store"
	"github.com/tombee/pollgate/internal/tracing"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
)

// Options contains controller options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from cfg.Log.
	Logger *slog.Logger

	// Sink overrides the configured event sink.
	Sink sink.Sink
}

// Controller is the main pollgate service.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend   backend.Backend
	telemetry *tracing.Provider
	sink      sink.Sink
	pieces    *pieces.Registry
	service   *polltrigger.Service

	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a controller from cfg. Resources are acquired here and
// released by Shutdown.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logCfg := &internallog.Config{
			Level:     cfg.Log.Level,
			Format:    internallog.Format(cfg.Log.Format),
			Output:    os.Stderr,
			AddSource: cfg.Log.AddSource,
		}
		internallog.ApplyEnv(logCfg)
		logger = internallog.New(logCfg)
	}
	logger = internallog.WithComponent(logger, "controller")

	c := &Controller{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}

	registry := builtin.Registry(pieces.NewClient(cfg.Polling.Timeout))
	if err := cfg.CheckPieces(registry.Names()); err != nil {
		return nil, err
	}
	c.pieces = registry

	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.ServiceVersion = opts.Version
	if cfg.Tracing.ServiceName != "" {
		tcfg.ServiceName = cfg.Tracing.ServiceName
	}
	if cfg.Tracing.Exporter != "" {
		tcfg.Exporter = cfg.Tracing.Exporter
	}
	if cfg.Tracing.SampleRate > 0 {
		tcfg.Sampling = tracing.SamplingConfig{
			Enabled:            true,
			Rate:               cfg.Tracing.SampleRate,
			AlwaysSampleErrors: cfg.Tracing.AlwaysSampleErrors,
		}
	}
	telemetry, err := tracing.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	c.telemetry = telemetry

	be, err := store.Open(ctx, cfg.Store)
	if err != nil {
		c.release(ctx)
		return nil, err
	}
	c.backend = be
	logger.Info("cursor store opened", slog.String("backend", be.Name()))

	c.sink = opts.Sink
	if c.sink == nil {
		s, err := sink.New(ctx, cfg.Sink, logger)
		if err != nil {
			c.release(ctx)
			return nil, fmt.Errorf("failed to create sink: %w", err)
		}
		c.sink = s
	}

	svc, err := polltrigger.NewService(polltrigger.ServiceConfig{
		Backend:              be,
		Pieces:               registry,
		Sink:                 c.sink,
		Logger:               logger,
		PollTimeout:          cfg.Polling.Timeout,
		MinInterval:          cfg.Polling.MinInterval,
		DefaultInterval:      cfg.Polling.DefaultInterval,
		MaxConsecutiveErrors: cfg.Polling.MaxConsecutiveErrors,
		RateLimit:            cfg.Polling.RateLimit,
		PurgeOnDisable:       cfg.Polling.PurgeOnDisable,
		MeterProvider:        telemetry.MeterProvider(),
		TracerProvider:       telemetry.TracerProvider(),
	})
	if err != nil {
		c.release(ctx)
		return nil, fmt.Errorf("failed to create poll trigger service: %w", err)
	}
	c.service = svc

	return c, nil
}

// Config returns the configuration the controller was built from.
func (c *Controller) Config() *config.Config { return c.cfg }

// Service returns the poll trigger service.
func (c *Controller) Service() *polltrigger.Service { return c.service }

// Pieces returns the piece registry.
func (c *Controller) Pieces() *pieces.Registry { return c.pieces }

// Registration converts a trigger declaration into a service registration,
// resolving its named credentials.
func (c *Controller) Registration(t config.TriggerConfig) polltrigger.Registration {
	var creds pieces.Credentials
	if t.Credentials != "" {
		cred := c.cfg.Credentials[t.Credentials]
		creds = pieces.Credentials{
			Token:    cred.Token,
			Username: cred.Username,
			Password: cred.Password,
		}
	}
	return polltrigger.Registration{
		Name:           t.Name,
		Piece:          t.Piece,
		Auth:           creds,
		Config:         t.Config,
		Interval:       c.cfg.IntervalFor(t),
		MaxItemsToPoll: t.MaxItemsToPoll,
		InputMapping:   t.InputMapping,
		Disabled:       t.Disabled,
	}
}

// RegisterTrigger registers a single configured trigger. When passive is
// set the trigger is bound without being armed or scheduled, so commands
// can inspect or reset it without side effects.
func (c *Controller) RegisterTrigger(ctx context.Context, name string, passive bool) error {
	t, ok := c.cfg.Trigger(name)
	if !ok {
		return &pgerrors.NotFoundError{Resource: "trigger", ID: name}
	}
	reg := c.Registration(t)
	if passive {
		reg.Disabled = true
	}
	return c.service.Register(ctx, reg)
}

// RegisterAll registers every configured trigger. A trigger that fails to
// register is logged and skipped.
func (c *Controller) RegisterAll(ctx context.Context) int {
	registered := 0
	for _, t := range c.cfg.Triggers {
		if err := c.service.Register(ctx, c.Registration(t)); err != nil {
			c.logger.Error("failed to register poll trigger",
				slog.String(internallog.TriggerKey, t.Name),
				slog.String(internallog.PieceKey, t.Piece),
				internallog.Error(err))
			continue
		}
		registered++
	}
	c.logger.Info("poll trigger registration complete",
		slog.Int("registered", registered),
		slog.Int("configured", len(c.cfg.Triggers)))
	return registered
}

// Start registers all triggers, starts polling and serves the API. It
// blocks until ctx is cancelled or the server fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller is shut down")
	}
	c.started = true
	c.mu.Unlock()

	c.RegisterAll(ctx)

	if err := c.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poll trigger service: %w", err)
	}

	errCh := make(chan error, 1)
	if addr := c.cfg.Server.Listen; addr != "" {
		if listener.IsRemote(addr) {
			c.logger.Warn("API is listening on a non-local address and has no authentication",
				slog.String("listen", addr))
		}

		ln, err := listener.New(addr)
		if err != nil {
			return fmt.Errorf("failed to create listener: %w", err)
		}

		router := api.NewRouter(api.Config{
			Service:        c.service,
			Logger:         c.logger,
			MetricsHandler: c.telemetry.MetricsHandler(),
			Version:        c.opts.Version,
		})

		c.mu.Lock()
		c.ln = ln
		c.server = &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		server := c.server
		c.mu.Unlock()

		c.logger.Info("API listening", slog.String("addr", ln.Addr().String()))

		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("API server error: %w", err)
	}
}

// Addr returns the API listener address, or nil before Start.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Shutdown stops the API and in-flight polls, then releases the store,
// sink and telemetry. It is safe to call without Start.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	server := c.server
	c.mu.Unlock()

	var errs []error

	if server != nil {
		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("API shutdown: %w", err))
		}
	}

	if err := c.service.Stop(ctx); err != nil {
		c.logger.Warn("poll trigger service stop timeout", internallog.Error(err))
		errs = append(errs, err)
	}

	if err := c.release(ctx); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("controller stopped")
	return errors.Join(errs...)
}

// release closes the sink, store and telemetry, whichever were created.
func (c *Controller) release(ctx context.Context) error {
	var errs []error
	if c.sink != nil && c.opts.Sink == nil {
		if err := c.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink close: %w", err))
		}
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if c.telemetry != nil {
		if err := c.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
