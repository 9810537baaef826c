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

// Package backend provides durable storage for poll trigger cursors.
//
// Every backend stores opaque values under (trigger ID, key). Scope narrows a
// backend to a single trigger and yields the polling.Store the engine uses,
// so keys written by one trigger can never be read by another.
//
// Implementations:
//
//   - memory: process-local, for tests and ephemeral runs
//   - sqlite: single-node embedded database (default)
//   - redis: shared store for controllers that move between hosts
//   - postgres: relational store alongside other platform data
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/pollgate/pkg/polling"
)

// Backend is the storage interface all cursor backends implement.
type Backend interface {
	io.Closer

	// Name returns the backend identifier (e.g., "sqlite").
	Name() string

	// Get returns the value for key, or nil and no error when absent.
	Get(ctx context.Context, triggerID, key string) ([]byte, error)

	// Put creates or replaces the value for key.
	Put(ctx context.Context, triggerID, key string, value []byte) error

	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, triggerID, key string) error

	// Keys lists the keys stored for a trigger in lexical order.
	Keys(ctx context.Context, triggerID string) ([]string, error)

	// DeleteAll removes every key stored for a trigger.
	DeleteAll(ctx context.Context, triggerID string) error
}

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend: closed")

var storeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pollgate_store_errors_total",
		Help: "Total cursor store operation errors by backend and operation",
	},
	[]string{"backend", "operation"},
)

// RecordStoreError increments the store error counter.
func RecordStoreError(backendName, operation string) {
	storeErrors.WithLabelValues(backendName, operation).Inc()
}

// Scope returns a polling.Store bound to triggerID.
func Scope(b Backend, triggerID string) polling.Store {
	return &scoped{backend: b, triggerID: triggerID}
}

type scoped struct {
	backend   Backend
	triggerID string
}

func (s *scoped) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.backend.Get(ctx, s.triggerID, key)
	if err != nil {
		RecordStoreError(s.backend.Name(), "get")
	}
	return v, err
}

func (s *scoped) Put(ctx context.Context, key string, value []byte) error {
	err := s.backend.Put(ctx, s.triggerID, key, value)
	if err != nil {
		RecordStoreError(s.backend.Name(), "put")
	}
	return err
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	err := s.backend.Delete(ctx, s.triggerID, key)
	if err != nil {
		RecordStoreError(s.backend.Name(), "delete")
	}
	return err
}
