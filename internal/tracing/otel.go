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

package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps the OpenTelemetry SDK tracer and meter providers.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *metric.MeterProvider
	registry *prometheus.Registry
}

// New creates a Provider. Extra options are appended to the tracer
// provider options, which lets tests attach an in-memory span processor.
func New(cfg Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	cfg = cfg.withDefaults()

	// No schema URL, to avoid conflicts when merging with the default resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.Sampling)),
	}
	if cfg.Enabled {
		switch cfg.Exporter {
		case ExporterStdout:
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
			}
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		case ExporterNone:
		default:
			return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
		}
	} else {
		tpOpts = append(tpOpts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}
	tpOpts = append(tpOpts, opts...)

	tp := sdktrace.NewTracerProvider(tpOpts...)

	// Set as global tracer provider (for libraries that use otel.Tracer)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator())

	// Each provider gets its own registry so repeated construction in one
	// process (tests, reloads) does not collide.
	registry := prometheus.NewRegistry()
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	return &Provider{
		tp:       tp,
		mp:       mp,
		registry: registry,
	}, nil
}

// TracerProvider returns the SDK tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// MeterProvider returns the SDK meter provider.
func (p *Provider) MeterProvider() otelmetric.MeterProvider {
	return p.mp
}

// MetricsHandler serves OTel metrics together with metrics registered on the
// default Prometheus registry (store errors, HTTP request metrics).
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{p.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}
