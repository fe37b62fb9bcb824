package relay

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/courierlive/internal/delivery/domain"
)

// LocationUpdater is the durable REST path for location updates.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, trackingID string, sample domain.LocationSample) error
}

// SenderEvents receives sender lifecycle notifications. All methods are
// optional via NopSenderEvents embedding; they run on the sender's goroutines.
type SenderEvents interface {
	// SendSucceeded fires after every delivered sample.
	SendSucceeded(sample domain.LocationSample)
	// SendDegraded fires once the consecutive-failure threshold is crossed:
	// non-fatal, updates keep retrying.
	SendDegraded(consecutive int, err error)
	// SendExhausted fires when the retry ceiling is reached and the sender
	// gives up on the buffered sample.
	SendExhausted(err error)
}

// NopSenderEvents ignores all notifications.
type NopSenderEvents struct{}

func (NopSenderEvents) SendSucceeded(domain.LocationSample) {}
func (NopSenderEvents) SendDegraded(int, error)             {}
func (NopSenderEvents) SendExhausted(error)                 {}

// SenderConfig tunes debounce and retry behaviour.
type SenderConfig struct {
	// MinInterval is the minimum gap between sends. Default 5s, 10s in
	// battery-saver mode.
	MinInterval  time.Duration
	BatterySaver bool
	// RetryCeiling bounds consecutive failures. Default 8.
	RetryCeiling int
	// NoticeAfter is the consecutive-failure count that triggers the
	// degraded notice. Default 3.
	NoticeAfter int
}

func (c *SenderConfig) applyDefaults() {
	if c.MinInterval <= 0 {
		if c.BatterySaver {
			c.MinInterval = 10 * time.Second
		} else {
			c.MinInterval = 5 * time.Second
		}
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 8
	}
	if c.NoticeAfter <= 0 {
		c.NoticeAfter = 3
	}
}

// Backoff returns the delay before the nth consecutive retry:
// min(2^n seconds, 60s).
func Backoff(n int) time.Duration {
	if n >= 6 {
		return 60 * time.Second
	}
	return time.Duration(1<<uint(n)) * time.Second
}

// Sender buffers the latest location sample and pushes it to the backend,
// enforcing a minimum inter-send gap and exponential backoff on failure. The
// buffer holds at most one pending sample: the newest always wins. Sends are
// strictly serialized.
type Sender struct {
	trackingID string
	api        LocationUpdater
	mirror     func(domain.LocationSample) bool
	events     SenderEvents
	cfg        SenderConfig
	logger     *zap.Logger
	tracer     trace.Tracer

	mu       sync.Mutex
	pending  *domain.LocationSample
	inFlight bool
	retries  int
	lastSent time.Time
	timer    *time.Timer
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSender constructs a sender. mirror best-effort re-publishes delivered
// samples over the live channel and may be nil; events may be nil.
func NewSender(trackingID string, api LocationUpdater, mirror func(domain.LocationSample) bool, events SenderEvents, cfg SenderConfig, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = NopSenderEvents{}
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		trackingID: trackingID,
		api:        api,
		mirror:     mirror,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("relay.sender"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Offer buffers a sample for delivery. A sample offered before the previous
// one was sent replaces it; it is never queued behind it.
func (s *Sender) Offer(sample domain.LocationSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = &sample
	if s.inFlight || s.timer != nil {
		// The in-flight completion or the armed timer picks the buffer up.
		return
	}
	s.armLocked(s.gapDelayLocked())
}

// Retries returns the current consecutive-failure count.
func (s *Sender) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Pending reports whether a sample is waiting to be sent.
func (s *Sender) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Close cancels any armed timer and waits for an in-flight send to finish. No
// REST call is started after Close returns.
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// gapDelayLocked computes how long to wait so the minimum inter-send gap is
// honored exactly: never early, never dropped.
func (s *Sender) gapDelayLocked() time.Duration {
	if s.lastSent.IsZero() {
		return 0
	}
	elapsed := time.Since(s.lastSent)
	if elapsed >= s.cfg.MinInterval {
		return 0
	}
	return s.cfg.MinInterval - elapsed
}

func (s *Sender) armLocked(delay time.Duration) {
	s.timer = time.AfterFunc(delay, s.fire)
}

// fire performs one serialized send of the buffered sample.
func (s *Sender) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.inFlight || s.pending == nil {
		s.mu.Unlock()
		return
	}
	sample := *s.pending
	s.inFlight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, span := s.tracer.Start(s.ctx, "relay.send",
			trace.WithAttributes(attribute.String("tracking_id", s.trackingID)))
		defer span.End()
		err := s.api.UpdateLocation(ctx, s.trackingID, sample)
		if err != nil {
			span.RecordError(err)
			s.onFailure(err)
			return
		}
		s.onSuccess(sample)
	}()
}

func (s *Sender) onSuccess(sent domain.LocationSample) {
	s.mu.Lock()
	s.inFlight = false
	s.retries = 0
	s.lastSent = time.Now()
	if s.pending != nil && !s.pending.Timestamp.After(sent.Timestamp) {
		// Nothing newer arrived while the send was in flight.
		s.pending = nil
	}
	hasPending := s.pending != nil && !s.closed
	if hasPending {
		s.armLocked(s.gapDelayLocked())
	}
	s.mu.Unlock()

	updatesSentTotal.Inc()
	if s.mirror != nil {
		// Best effort: the socket mirror is not retried, REST is the durable
		// path.
		if !s.mirror(sent) {
			s.logger.Debug("mirror skipped", zap.String("tracking_id", s.trackingID))
		}
	}
	s.events.SendSucceeded(sent)
}

func (s *Sender) onFailure(err error) {
	s.mu.Lock()
	s.inFlight = false
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.retries++
	retries := s.retries
	if retries >= s.cfg.RetryCeiling {
		s.pending = nil
		s.mu.Unlock()
		updatesFailedTotal.Inc()
		s.logger.Error("location update retries exhausted", zap.Error(err), zap.Int("retries", retries))
		s.events.SendExhausted(err)
		return
	}
	backoff := Backoff(retries)
	s.armLocked(backoff)
	s.mu.Unlock()

	updateRetriesTotal.Inc()
	s.logger.Warn("location update failed",
		zap.Error(err),
		zap.Int("consecutive", retries),
		zap.Duration("backoff", backoff))
	if retries >= s.cfg.NoticeAfter {
		s.events.SendDegraded(retries, err)
	}
}
