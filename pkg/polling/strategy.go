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

import "context"

// Kind identifies a strategy variant.
type Kind string

const (
	// KindTimeBased deduplicates by item timestamp.
	KindTimeBased Kind = "TIMEBASED"
	// KindLastItem deduplicates by the position of the last delivered id.
	KindLastItem Kind = "LAST_ITEM"
)

// Payload is the data an item carries to the flow that consumes it.
type Payload map[string]interface{}

// TimedItem is an item returned by a TimeBased source.
type TimedItem struct {
	// EpochMs is the item's timestamp in milliseconds since the Unix epoch.
	EpochMs int64
	Data    Payload
}

// IdentifiedItem is an item returned by a LastItem source.
type IdentifiedItem struct {
	ID   string
	Data Payload
}

// TimeBasedFunc returns the items currently visible in the remote system.
// lastFetchEpochMs is the cursor, or 0 when previewing.
type TimeBasedFunc func(ctx context.Context, auth any, config map[string]interface{}, lastFetchEpochMs int64) ([]TimedItem, error)

// LastItemFunc returns the items currently visible in the remote system,
// newest first. lastItemID is nil when there is no cursor.
type LastItemFunc func(ctx context.Context, auth any, config map[string]interface{}, lastItemID *string) ([]IdentifiedItem, error)

// Strategy is implemented only by TimeBased and LastItem.
type Strategy interface {
	Kind() Kind
	sealed()
}

// TimeBased dedups by timestamp watermark.
type TimeBased struct {
	Items TimeBasedFunc
}

// Kind implements Strategy.
func (TimeBased) Kind() Kind { return KindTimeBased }
func (TimeBased) sealed()    {}

// LastItem dedups by the id of the newest delivered item.
type LastItem struct {
	Items LastItemFunc
}

// Kind implements Strategy.
func (LastItem) Kind() Kind { return KindLastItem }
func (LastItem) sealed()    {}

// cursorKey returns the store key a strategy keeps its cursor under.
// Each variant has its own key so a trigger rebound to another variant
// starts from an absent cursor instead of misreading the old one.
func cursorKey(s Strategy) (string, error) {
	switch s.(type) {
	case TimeBased, *TimeBased:
		return KeyLastPoll, nil
	case LastItem, *LastItem:
		return KeyLastItem, nil
	default:
		return "", &UnknownStrategyError{Strategy: s}
	}
}
