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

// Package polling implements cursor-based deduplication for poll triggers.
//
// A piece declares how to read the current window of items from a remote
// system by supplying a Strategy. The Engine owns the per-trigger cursor in a
// Store and turns repeated reads of overlapping windows into a stream of new
// items, each reported once.
//
// # Strategies
//
//   - TimeBased: items carry an epoch-millisecond timestamp. The cursor is the
//     highest timestamp seen so far; an item is new when it is strictly newer.
//   - LastItem: items carry an opaque identifier and are returned newest
//     first. The cursor is the identifier of the newest delivered item; items
//     before it in the returned window are new.
//
// # Lifecycle
//
//	UNINITIALIZED --OnEnable--> ARMED --Poll--> ARMED --OnDisable--> UNINITIALIZED
//
// Test can be called in any state and never reads or writes the cursor.
//
// # Guarantees
//
// A Poll that fails leaves the cursor untouched, so a retried poll returns
// the same items. Delivery is at-least-once: callers must not run two polls
// of the same trigger concurrently.
package polling
