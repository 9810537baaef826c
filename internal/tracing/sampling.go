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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// AttrErrorCount is set at span start on poll spans to the trigger's
// consecutive error count.
const AttrErrorCount = "pollgate.error_count"

// NewSampler returns the sampler for cfg. Without sampling every span is
// recorded. With AlwaysSampleErrors, spans started with an "error" flag or a
// positive AttrErrorCount bypass the ratio.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	if !cfg.Enabled || cfg.Rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}

	base := sdktrace.NeverSample()
	if cfg.Rate > 0 {
		base = sdktrace.TraceIDRatioBased(cfg.Rate)
	}
	base = sdktrace.ParentBased(base)

	if !cfg.AlwaysSampleErrors {
		return base
	}
	return failingSampler{base: base}
}

type failingSampler struct {
	base sdktrace.Sampler
}

func (s failingSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range p.Attributes {
		failing := (attr.Key == "error" && attr.Value.AsBool()) ||
			(attr.Key == AttrErrorCount && attr.Value.AsInt64() > 0)
		if failing {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
			}
		}
	}
	return s.base.ShouldSample(p)
}

func (s failingSampler) Description() string {
	return "FailingTriggerSampler{" + s.base.Description() + "}"
}
