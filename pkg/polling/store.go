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

package polling

import (
	"context"
	"encoding/json"
)

// Cursor keys. Stores are scoped per trigger by the caller.
const (
	KeyLastPoll = "lastPoll"
	KeyLastItem = "lastItem"
)

// Store is a per-trigger key/value store for cursor state.
type Store interface {
	// Get returns the value for key, or nil and no error if it is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put sets the value for key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// getCursor decodes the JSON value at key. found is false when absent.
func getCursor[T any](ctx context.Context, store Store, key string) (value T, found bool, err error) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return value, false, err
	}
	if raw == nil {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, &CursorDecodeError{Key: key, Cause: err}
	}
	return value, true, nil
}

func putCursor[T any](ctx context.Context, store Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, raw)
}
