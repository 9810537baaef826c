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

/*
Package tracing wires OpenTelemetry for the pollgate daemon.

A Provider owns the SDK tracer and meter providers. Metrics are exported
through the Prometheus exporter and served by MetricsHandler together with
metrics registered directly on the default Prometheus registry. Spans are
written by the stdout exporter when enabled, or dropped otherwise.

	provider, err := tracing.New(tracing.Config{
	    Enabled:     true,
	    ServiceName: "pollgate",
	    Exporter:    tracing.ExporterStdout,
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

	svc, err := polltrigger.NewService(polltrigger.ServiceConfig{
	    MeterProvider:  provider.MeterProvider(),
	    TracerProvider: provider.TracerProvider(),
	    // ...
	})

# Propagation

InjectHeaders and HTTPMiddleware carry W3C trace context across HTTP
boundaries, so a webhook receiver can join the poll span that fired it.
*/
package tracing
