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

// Package pieces defines item sources that poll third-party APIs.
//
// A piece turns its trigger configuration into a polling.Strategy. The
// strategy's item function is the only code that talks to the remote
// system; cursor handling stays in the polling engine.
package pieces

import (
	"fmt"
	"sort"
	"sync"

	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// Piece is a polling item source.
type Piece interface {
	// Name returns the identifier triggers reference (e.g., "jira").
	Name() string

	// Description is a one-line summary shown by the CLI.
	Description() string

	// Validate checks trigger configuration before any poll runs.
	Validate(config map[string]interface{}) error

	// Strategy binds the piece to a dedup strategy for config.
	Strategy(config map[string]interface{}) (polling.Strategy, error)
}

// Credentials is the auth value handed to item functions.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// CredentialsFrom extracts Credentials from an engine auth value.
func CredentialsFrom(auth any) Credentials {
	switch a := auth.(type) {
	case Credentials:
		return a
	case *Credentials:
		if a != nil {
			return *a
		}
	}
	return Credentials{}
}

// Registry resolves pieces by name.
type Registry struct {
	mu     sync.RWMutex
	pieces map[string]Piece
}

// NewRegistry creates a registry holding the given pieces.
func NewRegistry(pieces ...Piece) *Registry {
	r := &Registry{pieces: make(map[string]Piece, len(pieces))}
	for _, p := range pieces {
		r.pieces[p.Name()] = p
	}
	return r
}

// Register adds a piece. Names must be unique.
func (r *Registry) Register(p Piece) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pieces[p.Name()]; exists {
		return fmt.Errorf("piece %q already registered", p.Name())
	}
	r.pieces[p.Name()] = p
	return nil
}

// Get returns the named piece.
func (r *Registry) Get(name string) (Piece, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pieces[name]
	if !ok {
		return nil, &pgerrors.NotFoundError{Resource: "piece", ID: name}
	}
	return p, nil
}

// Names lists registered pieces in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pieces))
	for name := range r.pieces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
