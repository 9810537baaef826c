package polltrigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/pollgate/internal/controller/backend"
	"github.com/tombee/pollgate/internal/controller/backend/memory"
	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// source is a controllable item source shared by both strategies.
type source struct {
	mu    sync.Mutex
	timed []polling.TimedItem
	ids   []polling.IdentifiedItem
	err   error
	calls int
}

func (s *source) set(fn func(s *source)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *source) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *source) timeBased() polling.TimeBased {
	return polling.TimeBased{Items: func(ctx context.Context, auth any, config map[string]interface{}, last int64) ([]polling.TimedItem, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		return s.timed, s.err
	}}
}

func (s *source) lastItem() polling.LastItem {
	return polling.LastItem{Items: func(ctx context.Context, auth any, config map[string]interface{}, last *string) ([]polling.IdentifiedItem, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		return s.ids, s.err
	}}
}

type fakePiece struct {
	name     string
	strategy polling.Strategy
}

func (p *fakePiece) Name() string                                 { return p.name }
func (p *fakePiece) Description() string                          { return "test source" }
func (p *fakePiece) Validate(config map[string]interface{}) error { return nil }
func (p *fakePiece) Strategy(config map[string]interface{}) (polling.Strategy, error) {
	return p.strategy, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*TriggerEvent
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, event *TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []*TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TriggerEvent(nil), s.events...)
}

type harness struct {
	svc     *Service
	backend backend.Backend
	src     *source
	sink    *recordingSink
	spans   *tracetest.SpanRecorder
}

func newHarness(t *testing.T, mutate ...func(*ServiceConfig)) *harness {
	t.Helper()
	return newHarnessWith(t, memory.New(), &source{}, mutate...)
}

func newHarnessWith(t *testing.T, b backend.Backend, src *source, mutate ...func(*ServiceConfig)) *harness {
	t.Helper()

	registry := pieces.NewRegistry(
		&fakePiece{name: "timed", strategy: src.timeBased()},
		&fakePiece{name: "feed", strategy: src.lastItem()},
	)
	sink := &recordingSink{}
	spans := tracetest.NewSpanRecorder()

	cfg := ServiceConfig{
		Backend:        b,
		Pieces:         registry,
		Sink:           sink,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollTimeout:    time.Second,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		Clock:          func() time.Time { return baseTime },
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		_ = svc.Stop(context.Background())
	})

	return &harness{svc: svc, backend: b, src: src, sink: sink, spans: spans}
}

func reg(name, piece string) Registration {
	return Registration{Name: name, Piece: piece, Interval: time.Hour}
}

func at(offset time.Duration, id string) polling.TimedItem {
	return polling.TimedItem{
		EpochMs: baseTime.Add(offset).UnixMilli(),
		Data:    polling.Payload{"id": id},
	}
}

func item(id string) polling.IdentifiedItem {
	return polling.IdentifiedItem{ID: id, Data: polling.Payload{"id": id}}
}

func payloadIDs(events []*TriggerEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = fmt.Sprint(e.Payload["id"])
	}
	return ids
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)

	_, err = NewService(ServiceConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Backend: memory.New()})
	assert.Error(t, err)
}

func TestService_RegisterArmsTimeBasedTrigger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseArmed, st.Phase)
	assert.Equal(t, baseTime, st.ArmedAt)
	assert.Equal(t, polling.KindTimeBased, st.Strategy)
	assert.True(t, st.Scheduled)
	assert.Equal(t, time.Hour, st.Interval)
	assert.True(t, st.Cursor.Set)
	assert.Equal(t, baseTime.UnixMilli(), st.Cursor.Value)

	// Time-based arming never calls the source
	assert.Equal(t, 0, h.src.callCount())
}

func TestService_PollNowEmitsOnlyNewItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r := reg("alerts", "timed")
	r.InputMapping = map[string]string{"alert": "payload.id"}
	require.NoError(t, h.svc.Register(ctx, r))

	h.src.set(func(s *source) {
		s.timed = []polling.TimedItem{
			at(2*time.Minute, "b"),
			at(-time.Minute, "old"),
			at(time.Minute, "a"),
		}
	})

	result, err := h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, payloadIDs(result.Events))
	assert.Zero(t, result.SinkErrors)

	events := h.sink.received()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "alerts", e.Trigger)
		assert.Equal(t, "timed", e.Piece)
		assert.Equal(t, polling.KindTimeBased, e.Strategy)
		assert.Equal(t, baseTime, e.FiredAt)
		assert.Equal(t, e.Payload["id"], e.Inputs["alert"])
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)

	// Same window again: nothing new
	result, err = h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Len(t, h.sink.received(), 2)

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.EventsFired)
	assert.Equal(t, baseTime.Add(2*time.Minute).UnixMilli(), st.Cursor.Value)
	assert.Equal(t, baseTime, st.LastSuccessAt)
}

func TestService_PollNowStripsSensitiveFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	h.src.set(func(s *source) {
		s.timed = []polling.TimedItem{{
			EpochMs: baseTime.Add(time.Minute).UnixMilli(),
			Data:    polling.Payload{"id": "a", "api_token": "secret"},
		}}
	})

	result, err := h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.NotContains(t, result.Events[0].Payload, "api_token")
}

func TestService_LastItemLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.src.set(func(s *source) {
		s.ids = []polling.IdentifiedItem{item("3"), item("2"), item("1")}
	})
	require.NoError(t, h.svc.Register(ctx, reg("issues", "feed")))

	st, err := h.svc.Status(ctx, "issues")
	require.NoError(t, err)
	assert.Equal(t, "3", st.Cursor.Value)

	// Nothing new yet
	result, err := h.svc.PollNow(ctx, "issues")
	require.NoError(t, err)
	assert.Empty(t, result.Events)

	h.src.set(func(s *source) {
		s.ids = []polling.IdentifiedItem{item("5"), item("4"), item("3"), item("2")}
	})
	result, err = h.svc.PollNow(ctx, "issues")
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4"}, payloadIDs(result.Events))
}

func TestService_RegisterResumesArmedTriggerAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := &source{}
	src.set(func(s *source) { s.ids = []polling.IdentifiedItem{item("1")} })

	first := newHarnessWith(t, store, src)
	require.NoError(t, first.svc.Register(ctx, reg("issues", "feed")))
	require.NoError(t, first.svc.Stop(ctx))

	// New items arrive while the controller is down
	src.set(func(s *source) { s.ids = []polling.IdentifiedItem{item("2"), item("1")} })

	second := newHarnessWith(t, store, src)
	require.NoError(t, second.svc.Register(ctx, reg("issues", "feed")))

	st, err := second.svc.Status(ctx, "issues")
	require.NoError(t, err)
	assert.Equal(t, PhaseArmed, st.Phase)
	assert.Equal(t, "1", st.Cursor.Value, "resume must not re-baseline")

	result, err := second.svc.PollNow(ctx, "issues")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, payloadIDs(result.Events))
}

func TestService_CircuitBreakerPausesTrigger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *ServiceConfig) { cfg.MaxConsecutiveErrors = 3 })
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	h.src.set(func(s *source) { s.err = errors.New("Bearer abc123 rejected") })

	for i := 0; i < 3; i++ {
		_, err := h.svc.PollNow(ctx, "alerts")
		require.Error(t, err)
	}

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, 3, st.ErrorCount)
	assert.False(t, st.Scheduled)
	assert.Equal(t, "Bearer [REDACTED] rejected", st.LastError)

	// Enable resumes without a new baseline
	cursorBefore := st.Cursor.Value
	h.src.set(func(s *source) { s.err = nil })
	require.NoError(t, h.svc.Enable(ctx, "alerts"))

	st, err = h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseArmed, st.Phase)
	assert.Zero(t, st.ErrorCount)
	assert.Empty(t, st.LastError)
	assert.True(t, st.Scheduled)
	assert.Equal(t, cursorBefore, st.Cursor.Value)
}

func TestService_SuccessResetsErrorCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	h.src.set(func(s *source) { s.err = errors.New("boom") })
	_, err := h.svc.PollNow(ctx, "alerts")
	require.Error(t, err)

	h.src.set(func(s *source) { s.err = nil })
	_, err = h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Zero(t, st.ErrorCount)
	assert.Empty(t, st.LastError)
}

func TestService_RateLimitedSourceBacksOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	h.src.set(func(s *source) {
		s.err = &pgerrors.UpstreamError{
			Source:     "timed",
			StatusCode: http.StatusTooManyRequests,
			RetryAfter: time.Hour,
			Message:    "slow down",
		}
	})
	_, err := h.svc.PollNow(ctx, "alerts")
	require.Error(t, err)

	calls := h.src.callCount()
	_, err = h.svc.PollNow(ctx, "alerts")
	var backoff *BackoffError
	require.True(t, errors.As(err, &backoff))
	assert.Equal(t, calls, h.src.callCount(), "source must not be called while backing off")

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.False(t, st.BackoffUntil.IsZero())
	assert.Equal(t, 1, st.ErrorCount)
}

func TestService_DisableKeepsCursorUnlessPurged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	require.NoError(t, h.svc.Disable(ctx, "alerts", false))

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseDisabled, st.Phase)
	assert.False(t, st.Scheduled)
	assert.True(t, st.Cursor.Set)

	require.NoError(t, h.svc.Enable(ctx, "alerts"))
	st, err = h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseArmed, st.Phase)
	assert.True(t, st.Scheduled)

	require.NoError(t, h.svc.Disable(ctx, "alerts", true))
	st, err = h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseUninitialized, st.Phase)
	assert.False(t, st.Cursor.Set)

	keys, err := h.backend.Keys(ctx, "alerts")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestService_PollNowRejectsInactiveTrigger(t *testing.T) {
	tests := []struct {
		name  string
		phase Phase
		setup func(t *testing.T, h *harness)
	}{
		{
			name:  "disabled",
			phase: PhaseDisabled,
			setup: func(t *testing.T, h *harness) {
				require.NoError(t, h.svc.Disable(context.Background(), "alerts", false))
			},
		},
		{
			name:  "paused",
			phase: PhasePaused,
			setup: func(t *testing.T, h *harness) {
				h.src.set(func(s *source) { s.err = errors.New("boom") })
				for i := 0; i < 2; i++ {
					_, err := h.svc.PollNow(context.Background(), "alerts")
					require.Error(t, err)
				}
				h.src.set(func(s *source) { s.err = nil })
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, func(cfg *ServiceConfig) { cfg.MaxConsecutiveErrors = 2 })
			require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))
			tt.setup(t, h)

			before, err := h.svc.Status(ctx, "alerts")
			require.NoError(t, err)
			require.Equal(t, tt.phase, before.Phase)

			h.src.set(func(s *source) { s.timed = []polling.TimedItem{at(time.Minute, "new")} })
			calls := h.src.callCount()

			result, err := h.svc.PollNow(ctx, "alerts")
			assert.Nil(t, result)
			var inactive *InactiveError
			require.ErrorAs(t, err, &inactive)
			assert.Equal(t, tt.phase, inactive.Phase)

			assert.Equal(t, calls, h.src.callCount())
			assert.Empty(t, h.sink.received())

			after, err := h.svc.Status(ctx, "alerts")
			require.NoError(t, err)
			assert.Equal(t, tt.phase, after.Phase)
			assert.Equal(t, before.Cursor.Value, after.Cursor.Value)
			assert.Equal(t, before.ErrorCount, after.ErrorCount)
		})
	}
}

func TestService_PurgeOnDisableConfig(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *ServiceConfig) { cfg.PurgeOnDisable = true })
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	require.NoError(t, h.svc.Disable(ctx, "alerts", false))

	keys, err := h.backend.Keys(ctx, "alerts")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	require.NoError(t, h.svc.Reset(ctx, "alerts"))

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseUninitialized, st.Phase)
	assert.False(t, st.Scheduled)
	assert.False(t, st.Cursor.Set)

	// Poll without a cursor surfaces the engine error
	_, err = h.svc.PollNow(ctx, "alerts")
	var missing *polling.MissingCursorError
	assert.True(t, errors.As(err, &missing))
}

func TestService_TestDoesNotTouchStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.src.set(func(s *source) {
		for i := 0; i < 8; i++ {
			s.timed = append(s.timed, at(time.Duration(i)*time.Minute, fmt.Sprint(i)))
		}
	})

	r := reg("alerts", "timed")
	r.Disabled = true
	require.NoError(t, h.svc.Register(ctx, r))

	payloads, err := h.svc.Test(ctx, "alerts")
	require.NoError(t, err)
	assert.Len(t, payloads, polling.TestSampleSize)
	assert.Equal(t, "0", payloads[0]["id"])

	keys, err := h.backend.Keys(ctx, "alerts")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, h.sink.received())
}

func TestService_DisabledRegistrationIsNotArmed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r := reg("alerts", "timed")
	r.Disabled = true
	require.NoError(t, h.svc.Register(ctx, r))

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, PhaseUninitialized, st.Phase)
	assert.False(t, st.Scheduled)
}

func TestService_SinkErrorsDoNotRollBackCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	h.sink.err = errors.New("sink down")
	h.src.set(func(s *source) { s.timed = []polling.TimedItem{at(time.Minute, "a")} })

	result, err := h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SinkErrors)
	require.Len(t, result.Events, 1)

	st, err := h.svc.Status(ctx, "alerts")
	require.NoError(t, err)
	assert.Zero(t, st.EventsFired)
	assert.Equal(t, baseTime.Add(time.Minute).UnixMilli(), st.Cursor.Value)
}

func TestService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.svc.Register(ctx, reg("bad name", "timed"))
	var valErr *pgerrors.ValidationError
	assert.True(t, errors.As(err, &valErr))

	err = h.svc.Register(ctx, reg("alerts", "nope"))
	var notFound *pgerrors.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	r := reg("alerts", "timed")
	r.InputMapping = map[string]string{"x": "payload.id +"}
	err = h.svc.Register(ctx, r)
	assert.True(t, errors.As(err, &valErr))

	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))
	err = h.svc.Register(ctx, reg("alerts", "timed"))
	assert.True(t, errors.As(err, &valErr))
}

func TestService_UnknownTrigger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var notFound *pgerrors.NotFoundError

	_, err := h.svc.PollNow(ctx, "missing")
	assert.True(t, errors.As(err, &notFound))
	_, err = h.svc.Test(ctx, "missing")
	assert.True(t, errors.As(err, &notFound))
	assert.True(t, errors.As(h.svc.Enable(ctx, "missing"), &notFound))
	assert.True(t, errors.As(h.svc.Disable(ctx, "missing", false), &notFound))
	assert.True(t, errors.As(h.svc.Unregister("missing"), &notFound))
}

func TestService_StatusesOrderedByName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("zeta", "timed")))
	require.NoError(t, h.svc.Register(ctx, reg("alpha", "timed")))

	statuses, err := h.svc.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Trigger)
	assert.Equal(t, "zeta", statuses[1].Trigger)
	assert.Equal(t, []string{"alpha", "zeta"}, h.svc.Names())
}

func TestService_ScheduledPollsFire(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *ServiceConfig) { cfg.MinInterval = 10 * time.Millisecond })

	h.src.set(func(s *source) { s.timed = []polling.TimedItem{at(time.Minute, "a")} })

	r := reg("alerts", "timed")
	r.Interval = 20 * time.Millisecond
	require.NoError(t, h.svc.Register(ctx, r))

	require.Eventually(t, func() bool {
		return len(h.sink.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Later polls see the same window and fire nothing more
	require.Eventually(t, func() bool {
		return h.src.callCount() >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.sink.received(), 1)
}

func TestService_PollRecordsSpan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Register(ctx, reg("alerts", "timed")))

	_, err := h.svc.PollNow(ctx, "alerts")
	require.NoError(t, err)

	spans := h.spans.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, "polltrigger.poll", spans[len(spans)-1].Name())
}
