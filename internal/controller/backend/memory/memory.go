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

// Package memory provides an in-memory backend implementation.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tombee/pollgate/internal/controller/backend"
)

// Compile-time interface assertion.
var _ backend.Backend = (*Backend)(nil)

// Backend is an in-memory storage backend.
type Backend struct {
	mu       sync.RWMutex
	triggers map[string]map[string][]byte
	closed   bool
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		triggers: make(map[string]map[string][]byte),
	}
}

// Name returns "memory".
func (b *Backend) Name() string { return "memory" }

// Get returns a copy of the stored value.
func (b *Backend) Get(ctx context.Context, triggerID, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, backend.ErrClosed
	}
	v, ok := b.triggers[triggerID][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (b *Backend) Put(ctx context.Context, triggerID, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	keys, ok := b.triggers[triggerID]
	if !ok {
		keys = make(map[string][]byte)
		b.triggers[triggerID] = keys
	}
	keys[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, triggerID, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	delete(b.triggers[triggerID], key)
	if len(b.triggers[triggerID]) == 0 {
		delete(b.triggers, triggerID)
	}
	return nil
}

// Keys lists a trigger's keys.
func (b *Backend) Keys(ctx context.Context, triggerID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, backend.ErrClosed
	}
	keys := make([]string, 0, len(b.triggers[triggerID]))
	for k := range b.triggers[triggerID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteAll removes all of a trigger's keys.
func (b *Backend) DeleteAll(ctx context.Context, triggerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	delete(b.triggers, triggerID)
	return nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
