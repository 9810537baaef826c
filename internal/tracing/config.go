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
	"io"
	"os"
)

// Span exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

const defaultServiceName = "pollgate"

// Config selects what the Provider records and where spans go. Metrics are
// collected regardless of Enabled.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Exporter is ExporterNone or ExporterStdout.
	Exporter string

	// Writer receives stdout-exported spans. Nil means os.Stderr, which
	// keeps spans out of the event stream on stdout.
	Writer io.Writer

	Sampling SamplingConfig
}

// SamplingConfig thins out recorded traces. When disabled every trace is
// kept.
type SamplingConfig struct {
	Enabled bool

	// Rate is the fraction of root traces kept, 0.0 to 1.0.
	Rate float64

	// AlwaysSampleErrors keeps spans of failing triggers regardless of Rate.
	AlwaysSampleErrors bool
}

// DefaultConfig returns tracing disabled with no exporter.
func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
		Exporter:    ExporterNone,
	}
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Exporter == "" {
		c.Exporter = ExporterNone
	}
	if c.Writer == nil {
		c.Writer = os.Stderr
	}
	return c
}
