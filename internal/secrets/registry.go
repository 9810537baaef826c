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

package secrets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// Provider resolves the key part of a scheme:key reference.
type Provider interface {
	Scheme() string
	Resolve(ctx context.Context, key string) (string, error)
}

// ResolutionError reports a reference that could not be resolved.
type ResolutionError struct {
	Reference string
	Scheme    string
	Reason    string
	Cause     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("secret %q: %s", e.Reference, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

var (
	legacyEnvVarRegex = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)
	schemeRegex       = regexp.MustCompile(`^([a-z][a-z0-9]*):(.+)$`)
)

// Registry routes references to providers by scheme.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Default returns a registry with the env and file providers registered.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(NewEnvProvider())
	_ = r.Register(NewFileProvider(0))
	return r
}

// Register adds a provider. A scheme may only be registered once.
func (r *Registry) Register(p Provider) error {
	scheme := p.Scheme()
	if _, exists := r.providers[scheme]; exists {
		return fmt.Errorf("provider for scheme %q already registered", scheme)
	}
	r.providers[scheme] = p
	return nil
}

// Schemes lists the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the value a reference points at. Empty strings and
// values without a registered scheme are returned after ${VAR} expansion.
func (r *Registry) Resolve(ctx context.Context, reference string) (string, error) {
	if reference == "" {
		return "", nil
	}

	if m := legacyEnvVarRegex.FindStringSubmatch(reference); m != nil {
		if p, ok := r.providers["env"]; ok {
			return r.resolveWith(ctx, p, reference, m[1])
		}
	}

	if m := schemeRegex.FindStringSubmatch(reference); m != nil {
		if p, ok := r.providers[m[1]]; ok {
			return r.resolveWith(ctx, p, reference, m[2])
		}
	}

	return os.ExpandEnv(reference), nil
}

func (r *Registry) resolveWith(ctx context.Context, p Provider, reference, key string) (string, error) {
	value, err := p.Resolve(ctx, key)
	if err != nil {
		return "", &ResolutionError{
			Reference: reference,
			Scheme:    p.Scheme(),
			Reason:    err.Error(),
			Cause:     err,
		}
	}
	return value, nil
}
