package polltrigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/pollgate/internal/controller/backend"
	"github.com/tombee/pollgate/internal/log"
	"github.com/tombee/pollgate/internal/pieces"
	"github.com/tombee/pollgate/internal/tracing"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
	"github.com/tombee/pollgate/pkg/polling"
)

const (
	defaultPollTimeout          = 30 * time.Second
	defaultInterval             = 5 * time.Minute
	defaultMaxConsecutiveErrors = 10

	// statusWriteTimeout bounds status writes after a poll context expired.
	statusWriteTimeout = 5 * time.Second

	tracerName = "github.com/tombee/pollgate/internal/controller/polltrigger"
)

// Service manages poll triggers for the controller.
// It coordinates the scheduler, the polling engine, and the sink to poll
// item sources and fire events for new items.
type Service struct {
	cfg       ServiceConfig
	logger    *slog.Logger
	engine    *polling.Engine
	scheduler *Scheduler
	limiter   *RateLimiter
	mapper    *InputMapper
	metrics   *MetricsCollector
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.RWMutex
	bindings map[string]*binding

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// ServiceConfig contains configuration for the poll trigger service.
type ServiceConfig struct {
	// Backend stores cursors and trigger status. Required.
	Backend backend.Backend

	// Pieces resolves item sources by name. Required.
	Pieces *pieces.Registry

	// Sink receives fired events. Required.
	Sink Sink

	// Logger is the structured logger for the service. Required.
	Logger *slog.Logger

	// PollTimeout is the maximum duration for a single poll.
	// Default: 30 seconds
	PollTimeout time.Duration

	// MinInterval is the floor for poll intervals.
	// Default: DefaultMinInterval
	MinInterval time.Duration

	// DefaultInterval applies to registrations without an interval.
	// Default: 5 minutes
	DefaultInterval time.Duration

	// MaxConsecutiveErrors pauses a trigger once reached.
	// Default: 10
	MaxConsecutiveErrors int

	// RateLimit is the per-piece request rate in calls per second.
	// Zero disables the token bucket; 429 backoff still applies.
	RateLimit float64

	// PurgeOnDisable deletes cursor and status on every Disable.
	PurgeOnDisable bool

	// MeterProvider is the OpenTelemetry meter provider for metrics.
	// If nil, metrics will not be collected.
	MeterProvider metric.MeterProvider

	// TracerProvider creates poll spans. If nil, the global provider is used.
	TracerProvider trace.TracerProvider

	// Clock overrides time.Now for cursor baselines and timestamps.
	Clock func() time.Time
}

// binding is a registration bound to its strategy and scoped store.
type binding struct {
	reg      Registration
	strategy polling.Strategy
	store    polling.Store
	logger   *slog.Logger

	// runMu serializes lifecycle operations so a trigger never has two
	// engine calls in flight.
	runMu sync.Mutex
}

func (b *binding) params() polling.Params {
	return polling.Params{
		Store:          b.store,
		Auth:           b.reg.Auth,
		Config:         b.reg.Config,
		MaxItemsToPoll: b.reg.MaxItemsToPoll,
	}
}

// stamp fills the identity fields of a status from the binding.
func (b *binding) stamp(st *Status) {
	st.Trigger = b.reg.Name
	st.Piece = b.reg.Piece
	st.Strategy = b.strategy.Kind()
}

// NewService creates a new poll trigger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Pieces == nil {
		return nil, fmt.Errorf("piece registry is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = defaultInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	logger := log.WithComponent(cfg.Logger, "polltrigger")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:    cfg,
		logger: logger,
		engine: polling.NewEngine(
			polling.WithClock(cfg.Clock),
			polling.WithLogger(logger),
		),
		limiter:  NewRateLimiter(cfg.RateLimit, 1),
		mapper:   NewInputMapper(),
		tracer:   tp.Tracer(tracerName),
		now:      cfg.Clock,
		bindings: make(map[string]*binding),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.MeterProvider != nil {
		metrics, err := NewMetricsCollector(cfg.MeterProvider)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		s.metrics = metrics
	}

	s.scheduler = NewScheduler(s.handlePoll, cfg.MinInterval)

	return s, nil
}

// Start starts the poll trigger service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("service already started")
	}

	s.started = true
	s.logger.Info("poll trigger service started",
		slog.Int("triggers", len(s.bindings)))

	return nil
}

// Stop gracefully stops the poll trigger service.
// In-flight polls are allowed to complete until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.cancel()
		s.scheduler.Stop()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping poll trigger service")

	s.cancel()
	s.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all poll triggers stopped")
	case <-ctx.Done():
		s.logger.Warn("poll trigger shutdown timed out, some polls may not have completed")
		return ctx.Err()
	}

	return nil
}

// Register binds a trigger to its piece and arms it. Triggers already armed
// in the store resume without a new baseline; paused and disabled triggers
// stay unscheduled until Enable.
func (s *Service) Register(ctx context.Context, reg Registration) error {
	if err := ValidateIdentifier(reg.Name); err != nil {
		return &pgerrors.ValidationError{Field: "name", Message: err.Error()}
	}

	piece, err := s.cfg.Pieces.Get(reg.Piece)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", reg.Name, err)
	}
	if err := piece.Validate(reg.Config); err != nil {
		return fmt.Errorf("trigger %s: %w", reg.Name, err)
	}
	if err := ValidateCredentials(piece.Name(), pieces.CredentialsFrom(reg.Auth)); err != nil {
		return fmt.Errorf("trigger %s: %w", reg.Name, err)
	}
	if err := s.mapper.Validate(reg.InputMapping); err != nil {
		return fmt.Errorf("trigger %s: %w", reg.Name, &pgerrors.ValidationError{
			Field:   "input_mapping",
			Message: err.Error(),
		})
	}

	strategy, err := piece.Strategy(reg.Config)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", reg.Name, err)
	}
	if reg.Interval <= 0 {
		reg.Interval = s.cfg.DefaultInterval
	}

	b := &binding{
		reg:      reg,
		strategy: strategy,
		store:    backend.Scope(s.cfg.Backend, reg.Name),
		logger:   log.WithTrigger(s.logger, reg.Name, reg.Piece, string(strategy.Kind())),
	}

	s.mu.Lock()
	if _, exists := s.bindings[reg.Name]; exists {
		s.mu.Unlock()
		return &pgerrors.ValidationError{Field: "name", Message: fmt.Sprintf("trigger %q already registered", reg.Name)}
	}
	s.bindings[reg.Name] = b
	s.mu.Unlock()

	b.logger.Info("registered poll trigger",
		slog.Duration("interval", reg.Interval),
		slog.Bool("disabled", reg.Disabled))

	if reg.Disabled {
		return nil
	}

	st, err := loadStatus(ctx, b.store, reg.Name)
	if err != nil {
		return err
	}

	switch st.Phase {
	case PhaseArmed:
		s.schedule(b)
		b.logger.Info("resumed poll trigger", slog.Time("armed_at", st.ArmedAt))
		return nil
	case PhasePaused, PhaseDisabled:
		b.logger.Info("poll trigger not scheduled", slog.String("phase", string(st.Phase)))
		return nil
	}

	return s.Enable(ctx, reg.Name)
}

// Unregister stops scheduling a trigger and forgets its binding. Stored
// state is kept.
func (s *Service) Unregister(name string) error {
	s.mu.Lock()
	_, exists := s.bindings[name]
	delete(s.bindings, name)
	s.mu.Unlock()

	if !exists {
		return &pgerrors.NotFoundError{Resource: "trigger", ID: name}
	}
	s.unschedule(name)
	return nil
}

// Enable arms a trigger. Uninitialized and disabled triggers get a fresh
// cursor baseline; paused triggers keep their cursor and have their error
// count cleared.
func (s *Service) Enable(ctx context.Context, name string) error {
	b, err := s.binding(name)
	if err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	st, err := loadStatus(ctx, b.store, name)
	if err != nil {
		return err
	}
	b.stamp(st)

	switch st.Phase {
	case PhaseArmed:
	case PhasePaused:
		st.Phase = PhaseArmed
		st.ErrorCount = 0
		st.LastError = ""
		if err := saveStatus(ctx, b.store, st, s.now()); err != nil {
			return err
		}
		b.logger.Info("resumed paused poll trigger")
	default:
		enableCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()

		if err := s.limiter.WaitIfNeeded(enableCtx, b.reg.Piece); err != nil {
			return err
		}
		if err := s.engine.OnEnable(enableCtx, b.strategy, b.params()); err != nil {
			s.observeUpstream(b.reg.Piece, err)
			b.logger.Error("failed to arm poll trigger", log.Error(err))
			return err
		}
		now := s.now()
		st.Phase = PhaseArmed
		st.ArmedAt = now
		st.ErrorCount = 0
		st.LastError = ""
		if err := saveStatus(ctx, b.store, st, now); err != nil {
			return err
		}
		b.logger.Info("armed poll trigger")
	}

	s.schedule(b)
	return nil
}

// Disable stops scheduling a trigger. With purge, or when the service is
// configured to purge on disable, the cursor and status are deleted so the
// next Enable starts from a fresh baseline.
func (s *Service) Disable(ctx context.Context, name string, purge bool) error {
	b, err := s.binding(name)
	if err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	s.unschedule(name)

	if err := s.engine.OnDisable(ctx, b.strategy, b.params()); err != nil {
		return err
	}

	if purge || s.cfg.PurgeOnDisable {
		if err := s.purge(ctx, b); err != nil {
			return err
		}
		b.logger.Info("disabled poll trigger and purged state")
		return nil
	}

	st, err := loadStatus(ctx, b.store, name)
	if err != nil {
		return err
	}
	b.stamp(st)
	st.Phase = PhaseDisabled
	if err := saveStatus(ctx, b.store, st, s.now()); err != nil {
		return err
	}
	b.logger.Info("disabled poll trigger")
	return nil
}

// Reset unschedules a trigger and deletes its cursor and status, returning
// it to the uninitialized state.
func (s *Service) Reset(ctx context.Context, name string) error {
	b, err := s.binding(name)
	if err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	s.unschedule(name)
	if err := s.purge(ctx, b); err != nil {
		return err
	}
	b.logger.Info("reset poll trigger")
	return nil
}

func (s *Service) purge(ctx context.Context, b *binding) error {
	if err := s.engine.Reset(ctx, b.strategy, b.params()); err != nil {
		return err
	}
	return deleteStatus(ctx, b.store)
}

// PollNow runs one poll immediately and returns the fired events.
func (s *Service) PollNow(ctx context.Context, name string) (*PollResult, error) {
	b, err := s.binding(name)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, b)
}

// handlePoll is called by the scheduler when a poll timer fires.
func (s *Service) handlePoll(ctx context.Context, triggerID string) error {
	b, err := s.binding(triggerID)
	if err != nil {
		return err
	}
	_, err = s.poll(ctx, b)
	return err
}

func (s *Service) poll(ctx context.Context, b *binding) (*PollResult, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	b.runMu.Lock()
	defer b.runMu.Unlock()

	name, piece := b.reg.Name, b.reg.Piece

	st, err := loadStatus(ctx, b.store, name)
	if err != nil {
		return nil, err
	}
	b.stamp(st)
	if err := st.pollable(); err != nil {
		return nil, err
	}

	if err := s.limiter.WaitIfNeeded(ctx, piece); err != nil {
		var backoff *BackoffError
		if errors.As(err, &backoff) {
			b.logger.Debug("skipping poll while backing off", slog.Time("until", backoff.Until))
		}
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	// A failing trigger's polls are always sampled, see tracing.NewSampler.
	pollCtx, span := s.tracer.Start(pollCtx, "polltrigger.poll", trace.WithAttributes(
		attribute.String("trigger", name),
		attribute.String("piece", piece),
		attribute.String("strategy", string(b.strategy.Kind())),
		attribute.Int(tracing.AttrErrorCount, st.ErrorCount),
	))
	defer span.End()

	start := time.Now()
	payloads, err := s.engine.Poll(pollCtx, b.strategy, b.params())
	duration := time.Since(start)
	st.LastPollAt = s.now()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		if ctx.Err() != nil {
			// Shutdown or unschedule; not a source failure.
			return nil, err
		}
		s.recordFailure(ctx, b, st, err, duration)
		return nil, err
	}

	s.limiter.RecordSuccess(piece)
	if s.metrics != nil {
		s.metrics.RecordPollComplete(pollCtx, piece, true, duration)
		s.metrics.RecordItems(pollCtx, piece, len(payloads))
	}

	st.ErrorCount = 0
	st.LastError = ""
	st.LastSuccessAt = st.LastPollAt

	// The cursor already moved past these items. Emission runs on the
	// caller's context so a slow sink is not cut short by the poll timeout.
	emitCtx := trace.ContextWithSpan(ctx, span)
	result := &PollResult{Trigger: name, Events: make([]*TriggerEvent, 0, len(payloads))}
	for _, payload := range payloads {
		event := s.buildEvent(b, payload)
		result.Events = append(result.Events, event)

		if err := s.cfg.Sink.Emit(emitCtx, event); err != nil {
			result.SinkErrors++
			if s.metrics != nil {
				s.metrics.RecordSinkError(emitCtx, piece)
			}
			b.logger.Error("failed to emit trigger event",
				slog.String(log.EventKey, event.ID),
				slog.String("error", SanitizeErrorMessage(err)))
			continue
		}
		st.EventsFired++
	}
	result.Duration = duration
	span.SetAttributes(attribute.Int("items", len(payloads)))

	if err := s.writeStatus(ctx, b, st); err != nil {
		b.logger.Error("failed to save status", log.Error(err))
	}

	if len(payloads) > 0 {
		b.logger.Info("poll trigger fired",
			slog.Int("new_items", len(payloads)),
			slog.Int("sink_errors", result.SinkErrors),
			slog.Int64(log.DurationKey, duration.Milliseconds()))
	} else {
		log.Trace(b.logger, "poll found no new items",
			slog.Int64(log.DurationKey, duration.Milliseconds()))
	}

	return result, nil
}

func (s *Service) recordFailure(ctx context.Context, b *binding, st *Status, err error, duration time.Duration) {
	piece := b.reg.Piece
	errorType := s.observeUpstream(piece, err)

	if s.metrics != nil {
		s.metrics.RecordPollComplete(ctx, piece, false, duration)
		s.metrics.RecordError(ctx, piece, errorType)
	}

	st.ErrorCount++
	st.LastError = SanitizeErrorMessage(err)

	attrs := []any{
		slog.Int("error_count", st.ErrorCount),
		slog.String("error_type", errorType),
		slog.String("error", st.LastError),
	}
	switch {
	case st.ErrorCount >= s.cfg.MaxConsecutiveErrors && st.Phase == PhaseArmed:
		st.Phase = PhasePaused
		s.unschedule(b.reg.Name)
		b.logger.Error("poll trigger paused after consecutive errors, enable or reset required", attrs...)
	case st.ErrorCount >= (s.cfg.MaxConsecutiveErrors+1)/2:
		b.logger.Error("poll trigger experiencing errors", attrs...)
	default:
		b.logger.Warn("poll failed", attrs...)
	}

	if saveErr := s.writeStatus(ctx, b, st); saveErr != nil {
		b.logger.Error("failed to save error status", log.Error(saveErr))
	}
}

// observeUpstream feeds source failures into the rate limiter and returns
// the error type for metrics.
func (s *Service) observeUpstream(piece string, err error) string {
	var upstream *pgerrors.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.IsRateLimited() {
			s.limiter.RecordRateLimit(piece, upstream.RetryAfter)
		} else {
			s.limiter.RecordError(piece, upstream.RetryAfter)
		}
	}
	errorType, _ := pgerrors.Classify(err)
	return errorType
}

// writeStatus saves st even when the poll context already expired.
func (s *Service) writeStatus(ctx context.Context, b *binding, st *Status) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return saveStatus(writeCtx, b.store, st, s.now())
}

func (s *Service) buildEvent(b *binding, payload polling.Payload) *TriggerEvent {
	cleaned := polling.Payload(StripSensitiveFields(payload, b.reg.Piece))

	event := &TriggerEvent{
		ID:       uuid.NewString(),
		Trigger:  b.reg.Name,
		Piece:    b.reg.Piece,
		Strategy: b.strategy.Kind(),
		FiredAt:  s.now(),
		Payload:  cleaned,
	}

	inputs, err := s.mapper.Map(b.reg.InputMapping, b.reg.Name, b.reg.Piece, cleaned)
	if err != nil {
		// The item is still delivered; consumers see it without inputs.
		b.logger.Warn("input mapping failed",
			slog.String(log.EventKey, event.ID),
			log.Error(err))
		return event
	}
	event.Inputs = inputs
	return event
}

// Test previews up to polling.TestSampleSize items from the trigger's
// source without reading or writing its cursor.
func (s *Service) Test(ctx context.Context, name string) ([]polling.Payload, error) {
	b, err := s.binding(name)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.WaitIfNeeded(ctx, b.reg.Piece); err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	testCtx, span := s.tracer.Start(testCtx, "polltrigger.test", trace.WithAttributes(
		attribute.String("trigger", name),
		attribute.String("piece", b.reg.Piece),
	))
	defer span.End()

	payloads, err := s.engine.Test(testCtx, b.strategy, b.params())
	if err != nil {
		s.observeUpstream(b.reg.Piece, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "test failed")
		return nil, err
	}

	cleaned := make([]polling.Payload, 0, len(payloads))
	for _, p := range payloads {
		cleaned = append(cleaned, StripSensitiveFields(p, b.reg.Piece))
	}
	return cleaned, nil
}

// Status returns the state of one trigger, including its cursor.
func (s *Service) Status(ctx context.Context, name string) (*TriggerStatus, error) {
	b, err := s.binding(name)
	if err != nil {
		return nil, err
	}

	st, err := loadStatus(ctx, b.store, name)
	if err != nil {
		return nil, err
	}
	b.stamp(st)

	cursor, err := s.engine.Cursor(ctx, b.strategy, b.params())
	if err != nil {
		return nil, err
	}

	ts := &TriggerStatus{
		Status:    *st,
		Interval:  b.reg.Interval,
		Scheduled: s.scheduler.IsScheduled(name),
		Cursor:    cursor,
	}
	if interval := s.scheduler.GetInterval(name); interval > 0 {
		ts.Interval = interval
	}
	if until, backedOff := s.limiter.GetBackoffStatus(b.reg.Piece); backedOff {
		ts.BackoffUntil = until
	}
	return ts, nil
}

// Statuses returns the state of every registered trigger ordered by name.
func (s *Service) Statuses(ctx context.Context) ([]*TriggerStatus, error) {
	names := s.Names()
	statuses := make([]*TriggerStatus, 0, len(names))
	for _, name := range names {
		ts, err := s.Status(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", name, err)
		}
		statuses = append(statuses, ts)
	}
	return statuses, nil
}

// Names returns the registered trigger names in lexical order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) binding(name string) (*binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[name]
	if !ok {
		return nil, &pgerrors.NotFoundError{Resource: "trigger", ID: name}
	}
	return b, nil
}

func (s *Service) schedule(b *binding) {
	if err := s.scheduler.Register(s.ctx, b.reg.Name, b.reg.Interval); err != nil {
		b.logger.Warn("failed to schedule poll trigger", log.Error(err))
		return
	}
	s.updateActive()
}

func (s *Service) unschedule(name string) {
	s.scheduler.Unregister(name)
	s.updateActive()
}

func (s *Service) updateActive() {
	if s.metrics != nil {
		s.metrics.SetActiveTriggers(len(s.scheduler.ListTriggers()))
	}
}
