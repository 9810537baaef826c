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

package polling_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/pollgate/internal/controller/backend"
	"github.com/tombee/pollgate/internal/controller/backend/memory"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

// timedSource returns a fixed window and records the cursor it was given.
type timedSource struct {
	items []polling.TimedItem
	err   error
	calls []int64
}

func (s *timedSource) strategy() polling.TimeBased {
	return polling.TimeBased{Items: func(ctx context.Context, auth any, config map[string]interface{}, last int64) ([]polling.TimedItem, error) {
		s.calls = append(s.calls, last)
		return s.items, s.err
	}}
}

type idSource struct {
	items []polling.IdentifiedItem
	err   error
	calls []*string
}

func (s *idSource) strategy() polling.LastItem {
	return polling.LastItem{Items: func(ctx context.Context, auth any, config map[string]interface{}, last *string) ([]polling.IdentifiedItem, error) {
		s.calls = append(s.calls, last)
		return s.items, s.err
	}}
}

func timed(ms int64) polling.TimedItem {
	return polling.TimedItem{EpochMs: ms, Data: polling.Payload{"at": ms}}
}

func ids(names ...string) []polling.IdentifiedItem {
	items := make([]polling.IdentifiedItem, len(names))
	for i, n := range names {
		items[i] = polling.IdentifiedItem{ID: n, Data: polling.Payload{"id": n}}
	}
	return items
}

func payloadIDs(t *testing.T, payloads []polling.Payload) []string {
	t.Helper()
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = fmt.Sprint(p["id"])
	}
	return out
}

func newStore() polling.Store {
	return backend.Scope(memory.New(), "trigger")
}

func cursorValue(t *testing.T, store polling.Store, key string) string {
	t.Helper()
	raw, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	if raw == nil {
		return "<absent>"
	}
	return string(raw)
}

// flakyStore fails Put while failPut is set.
type flakyStore struct {
	polling.Store
	failPut bool
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, value)
}

func TestTimeBased_OnEnableWritesNow(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	engine := polling.NewEngine(polling.WithClock(func() time.Time { return now }))
	src := &timedSource{}
	store := newStore()

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store}))

	assert.Equal(t, "1700000000000", cursorValue(t, store, polling.KeyLastPoll))
	assert.Empty(t, src.calls, "time-based enable must not call the source")
}

func TestTimeBased_PollWithoutEnable(t *testing.T) {
	engine := polling.NewEngine()
	src := &timedSource{items: []polling.TimedItem{timed(1)}}
	store := newStore()

	_, err := engine.Poll(context.Background(), src.strategy(), polling.Params{Store: store})

	var missing *polling.MissingCursorError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, polling.KeyLastPoll, missing.Key)
	assert.Empty(t, src.calls)
	assert.Equal(t, "<absent>", cursorValue(t, store, polling.KeyLastPoll))

	typ, retryable := pgerrors.Classify(err)
	assert.Equal(t, "missing_cursor", typ)
	assert.False(t, retryable)
}

func TestTimeBased_PollReturnsNewerItemsInSourceOrder(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("1000")))
	src := &timedSource{items: []polling.TimedItem{timed(900), timed(1500), timed(2000)}}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)

	assert.Equal(t, []polling.Payload{{"at": int64(1500)}, {"at": int64(2000)}}, got)
	assert.Equal(t, "2000", cursorValue(t, store, polling.KeyLastPoll))
	assert.Equal(t, []int64{1000}, src.calls)
}

func TestTimeBased_SourceOrderIsKept(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("0")))
	src := &timedSource{items: []polling.TimedItem{timed(30), timed(10), timed(20)}}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)

	assert.Equal(t, []polling.Payload{{"at": int64(30)}, {"at": int64(10)}, {"at": int64(20)}}, got)
	assert.Equal(t, "30", cursorValue(t, store, polling.KeyLastPoll))
}

func TestTimeBased_EnableSuppressesHistory(t *testing.T) {
	ctx := context.Background()
	enabledAt := time.UnixMilli(5000)
	engine := polling.NewEngine(polling.WithClock(func() time.Time { return enabledAt }))
	store := newStore()
	src := &timedSource{items: []polling.TimedItem{timed(4000), timed(5000)}}

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store}))
	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)

	assert.Empty(t, got)
	assert.Equal(t, "5000", cursorValue(t, store, polling.KeyLastPoll))
}

func TestTimeBased_NoDuplicatesAcrossPolls(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("0")))

	windows := [][]polling.TimedItem{
		{timed(10), timed(20)},
		{timed(10), timed(20), timed(30)},
		{timed(20), timed(30)},
		{timed(30), timed(40), timed(50)},
		{},
	}

	seen := map[int64]int{}
	for _, window := range windows {
		src := &timedSource{items: window}
		got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
		require.NoError(t, err)
		for _, p := range got {
			seen[p["at"].(int64)]++
		}
	}

	assert.Equal(t, map[int64]int{10: 1, 20: 1, 30: 1, 40: 1, 50: 1}, seen)
}

func TestTimeBased_CursorNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("1000")))
	src := &timedSource{items: []polling.TimedItem{timed(100)}}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)

	assert.Empty(t, got)
	assert.Equal(t, "1000", cursorValue(t, store, polling.KeyLastPoll))
}

func TestTimeBased_FailedPollIsRepeatable(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("1000")))
	upstream := &pgerrors.UpstreamError{Source: "test", StatusCode: 503}

	failing := &timedSource{err: upstream}
	_, err := engine.Poll(ctx, failing.strategy(), polling.Params{Store: store})
	require.ErrorIs(t, err, upstream)
	assert.Equal(t, "1000", cursorValue(t, store, polling.KeyLastPoll))

	src := &timedSource{items: []polling.TimedItem{timed(1500)}}
	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTimeBased_StoreFailureReturnsNoItems(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := &flakyStore{Store: newStore()}
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte("1000")))
	src := &timedSource{items: []polling.TimedItem{timed(1500)}}

	store.failPut = true
	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.Error(t, err)
	assert.Nil(t, got)

	store.failPut = false
	got, err = engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLastItem_OnEnableStoresNewestID(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	src := &idSource{items: ids("c", "b", "a")}

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store, MaxItemsToPoll: 1}))

	assert.Equal(t, `"c"`, cursorValue(t, store, polling.KeyLastItem))
	require.Len(t, src.calls, 1)
	assert.Nil(t, src.calls[0])
}

func TestLastItem_OnEnableEmptyWindowClearsCursor(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastItem, []byte(`"stale"`)))
	src := &idSource{}

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store}))
	assert.Equal(t, "<absent>", cursorValue(t, store, polling.KeyLastItem))

	src.items = ids("x", "y")
	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, payloadIDs(t, got))
}

func TestLastItem_FirstPollThenRepeat(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	src := &idSource{items: ids("c", "b", "a")}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, payloadIDs(t, got))
	assert.Equal(t, `"c"`, cursorValue(t, store, polling.KeyLastItem))

	got, err = engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, `"c"`, cursorValue(t, store, polling.KeyLastItem))

	require.Len(t, src.calls, 2)
	assert.Nil(t, src.calls[0])
	require.NotNil(t, src.calls[1])
	assert.Equal(t, "c", *src.calls[1])
}

func TestLastItem_MaxItemsKeepsNewest(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastItem, []byte(`"b"`)))
	src := &idSource{items: ids("d", "c", "b", "a")}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store, MaxItemsToPoll: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"d"}, payloadIDs(t, got))
	assert.Equal(t, `"d"`, cursorValue(t, store, polling.KeyLastItem))
}

func TestLastItem_CursorNotInWindow(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastItem, []byte(`"gone"`)))
	src := &idSource{items: ids("f", "e")}

	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)

	assert.Equal(t, []string{"f", "e"}, payloadIDs(t, got))
	assert.Equal(t, `"f"`, cursorValue(t, store, polling.KeyLastItem))
}

func TestLastItem_NoDuplicatesAcrossPolls(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()

	windows := [][]polling.IdentifiedItem{
		ids("b", "a"),
		ids("c", "b", "a"),
		ids("c", "b"),
		ids("e", "d", "c"),
		ids("e", "d"),
	}

	seen := map[string]int{}
	for _, window := range windows {
		src := &idSource{items: window}
		got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
		require.NoError(t, err)
		for _, id := range payloadIDs(t, got) {
			seen[id]++
		}
	}

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}, seen)
}

func TestLastItem_FailedPollIsRepeatable(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastItem, []byte(`"a"`)))

	failing := &idSource{err: context.DeadlineExceeded}
	_, err := engine.Poll(ctx, failing.strategy(), polling.Params{Store: store})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, `"a"`, cursorValue(t, store, polling.KeyLastItem))

	src := &idSource{items: ids("c", "b", "a")}
	got, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, payloadIDs(t, got))
}

func TestTest_TruncatesAndNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()

	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("item-%02d", i)
	}

	tests := []struct {
		name  string
		items []polling.IdentifiedItem
		want  []string
	}{
		{name: "twelve items", items: ids(names...), want: names[:5]},
		{name: "three items", items: ids(names[:3]...), want: names[:3]},
		{name: "no items", items: nil, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore()
			require.NoError(t, store.Put(ctx, polling.KeyLastItem, []byte(`"item-01"`)))
			src := &idSource{items: tt.items}

			for i := 0; i < 3; i++ {
				got, err := engine.Test(ctx, src.strategy(), polling.Params{Store: store})
				require.NoError(t, err)
				assert.Equal(t, tt.want, payloadIDs(t, got))
			}

			assert.Equal(t, `"item-01"`, cursorValue(t, store, polling.KeyLastItem))
			for _, call := range src.calls {
				assert.Nil(t, call)
			}
		})
	}
}

func TestTest_TimeBasedStartsFromZero(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	src := &timedSource{items: []polling.TimedItem{timed(1), timed(2), timed(3), timed(4), timed(5), timed(6)}}

	got, err := engine.Test(ctx, src.strategy(), polling.Params{})
	require.NoError(t, err)

	assert.Len(t, got, polling.TestSampleSize)
	assert.Equal(t, polling.Payload{"at": int64(1)}, got[0])
	assert.Equal(t, []int64{0}, src.calls)
}

func TestTest_PropagatesSourceError(t *testing.T) {
	engine := polling.NewEngine()
	boom := errors.New("boom")
	src := &idSource{err: boom}

	_, err := engine.Test(context.Background(), src.strategy(), polling.Params{})
	assert.ErrorIs(t, err, boom)
}

func TestOnDisable_KeepsCursor(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	src := &idSource{items: ids("a")}

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store}))
	require.NoError(t, engine.OnDisable(ctx, src.strategy(), polling.Params{Store: store}))
	assert.Equal(t, `"a"`, cursorValue(t, store, polling.KeyLastItem))

	require.NoError(t, engine.Reset(ctx, src.strategy(), polling.Params{Store: store}))
	assert.Equal(t, "<absent>", cursorValue(t, store, polling.KeyLastItem))
}

func TestCursor_ReportsState(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine(polling.WithClock(func() time.Time { return time.UnixMilli(42) }))
	store := newStore()
	src := &timedSource{}

	state, err := engine.Cursor(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.False(t, state.Set)
	assert.Equal(t, polling.KindTimeBased, state.Kind)

	require.NoError(t, engine.OnEnable(ctx, src.strategy(), polling.Params{Store: store}))
	state, err = engine.Cursor(ctx, src.strategy(), polling.Params{Store: store})
	require.NoError(t, err)
	assert.True(t, state.Set)
	assert.Equal(t, int64(42), state.Value)
}

func TestStrategyKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	lastItem := &idSource{items: ids("a")}
	timeBased := &timedSource{}

	require.NoError(t, engine.OnEnable(ctx, lastItem.strategy(), polling.Params{Store: store}))

	_, err := engine.Poll(ctx, timeBased.strategy(), polling.Params{Store: store})
	var missing *polling.MissingCursorError
	assert.ErrorAs(t, err, &missing)
}

func TestCorruptCursor(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()
	require.NoError(t, store.Put(ctx, polling.KeyLastPoll, []byte(`"not a number"`)))
	src := &timedSource{}

	_, err := engine.Poll(ctx, src.strategy(), polling.Params{Store: store})
	var decodeErr *polling.CursorDecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.Empty(t, src.calls)
}

func TestInvalidStrategies(t *testing.T) {
	ctx := context.Background()
	engine := polling.NewEngine()
	store := newStore()

	_, err := engine.Poll(ctx, polling.TimeBased{}, polling.Params{Store: store})
	assert.ErrorIs(t, err, polling.ErrNoItemSource)

	var nilPtr *polling.LastItem
	_, err = engine.Poll(ctx, nilPtr, polling.Params{Store: store})
	var unknown *polling.UnknownStrategyError
	assert.ErrorAs(t, err, &unknown)

	src := &idSource{items: ids("a")}
	ptr := src.strategy()
	got, err := engine.Poll(ctx, &ptr, polling.Params{Store: store})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
