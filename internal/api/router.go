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

// Package api serves the pollgate HTTP API.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tombee/pollgate/internal/controller/polltrigger"
	"github.com/tombee/pollgate/internal/log"
	"github.com/tombee/pollgate/internal/tracing"
	"github.com/tombee/pollgate/pkg/polling"
)

// TriggerService is the part of polltrigger.Service the API drives.
type TriggerService interface {
	Statuses(ctx context.Context) ([]*polltrigger.TriggerStatus, error)
	Status(ctx context.Context, name string) (*polltrigger.TriggerStatus, error)
	Test(ctx context.Context, name string) ([]polling.Payload, error)
	PollNow(ctx context.Context, name string) (*polltrigger.PollResult, error)
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string, purge bool) error
	Reset(ctx context.Context, name string) error
}

// Config configures the router.
type Config struct {
	Service TriggerService
	Logger  *slog.Logger

	// MetricsHandler serves /metrics. Omitted when nil.
	MetricsHandler http.Handler

	Version string
}

// Router handles API requests.
type Router struct {
	service TriggerService
	logger  *slog.Logger
	version string
	started time.Time
}

// HealthResponse is the response format for /healthz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// TestResponse is the response format for trigger tests.
type TestResponse struct {
	Trigger string            `json:"trigger"`
	Items   []polling.Payload `json:"items"`
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Router{
		service: cfg.Service,
		logger:  logger,
		version: cfg.Version,
		started: time.Now(),
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(tracing.HTTPMiddleware)
	mux.Use(MetricsMiddleware)
	mux.Use(log.HTTPMiddleware(logger))

	mux.Get("/healthz", r.handleHealth)
	if cfg.MetricsHandler != nil {
		mux.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	mux.Route("/v1/triggers", func(v1 chi.Router) {
		v1.Get("/", r.handleList)
		v1.Route("/{name}", func(t chi.Router) {
			t.Get("/", r.handleGet)
			t.Post("/test", r.handleTest)
			t.Post("/poll", r.handlePoll)
			t.Post("/enable", r.handleEnable)
			t.Post("/disable", r.handleDisable)
			t.Post("/reset", r.handleReset)
		})
	})

	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return mux
}

// handleHealth handles GET /healthz.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: r.version,
		Uptime:  time.Since(r.started).Round(time.Second).String(),
		Checks: map[string]string{
			"api":     "ok",
			"runtime": runtime.Version(),
		},
	})
}

// handleList handles GET /v1/triggers.
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	statuses, err := r.service.Statuses(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": statuses})
}

// handleGet handles GET /v1/triggers/{name}.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	status, err := r.service.Status(req.Context(), chi.URLParam(req, "name"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTest handles POST /v1/triggers/{name}/test.
func (r *Router) handleTest(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	items, err := r.service.Test(req.Context(), name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, TestResponse{Trigger: name, Items: items})
}

// handlePoll handles POST /v1/triggers/{name}/poll.
func (r *Router) handlePoll(w http.ResponseWriter, req *http.Request) {
	result, err := r.service.PollNow(req.Context(), chi.URLParam(req, "name"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEnable handles POST /v1/triggers/{name}/enable.
func (r *Router) handleEnable(w http.ResponseWriter, req *http.Request) {
	r.lifecycle(w, req, func(ctx context.Context, name string) error {
		return r.service.Enable(ctx, name)
	})
}

// handleDisable handles POST /v1/triggers/{name}/disable?purge=true.
func (r *Router) handleDisable(w http.ResponseWriter, req *http.Request) {
	purge := false
	if v := req.URL.Query().Get("purge"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "purge must be a boolean")
			return
		}
		purge = parsed
	}
	r.lifecycle(w, req, func(ctx context.Context, name string) error {
		return r.service.Disable(ctx, name, purge)
	})
}

// handleReset handles POST /v1/triggers/{name}/reset.
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) {
	r.lifecycle(w, req, r.service.Reset)
}

// lifecycle runs op and answers with the trigger's resulting status.
func (r *Router) lifecycle(w http.ResponseWriter, req *http.Request, op func(ctx context.Context, name string) error) {
	name := chi.URLParam(req, "name")
	if err := op(req.Context(), name); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	status, err := r.service.Status(req.Context(), name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
