package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/eta"
	"github.com/example/courierlive/internal/ws"
	"github.com/example/courierlive/pkg/wsclient"
)

// DeliveryAPI is the slice of the backend REST surface the tracker drives.
type DeliveryAPI interface {
	LocationUpdater
	StartTracking(ctx context.Context, trackingID string) (domain.Delivery, error)
	CompleteDelivery(ctx context.Context, trackingID string) (domain.Delivery, error)
}

// Channel is the live fan-out connection. *wsclient.Manager satisfies it.
type Channel interface {
	Connect() error
	Disconnect()
	Send(v any) bool
	Status() wsclient.Status
}

// ErrNotArmed is returned when ConfirmComplete is called without ArmComplete.
var ErrNotArmed = errors.New("completion not armed")

// ErrNotTrackable is returned when the delivery status does not allow tracking.
var ErrNotTrackable = errors.New("delivery not trackable")

// TrackerConfig tunes the composed components.
type TrackerConfig struct {
	BatterySaver bool
	UserType     string // channel identity, defaults to "rider"
	Poller       PollerConfig
	Sender       SenderConfig
}

// Snapshot is the tracker's render state: cached delivery, latest sample,
// current estimate, any user-facing notice, and channel health.
type Snapshot struct {
	Delivery      domain.Delivery
	LastSample    *domain.LocationSample
	Estimate      *eta.Estimate
	Notice        string
	Watchers      int
	ChannelStatus wsclient.Status
	CompleteArmed bool
	Done          bool
}

// Tracker composes the poller, the debouncing sender, and the live channel
// into the rider-facing tracking behaviour, and drives delivery-status
// transitions over REST. The cached delivery is single-writer: only REST
// response handlers mutate it.
type Tracker struct {
	trackingID string
	api        DeliveryAPI
	poller     *Poller
	sender     *Sender
	channel    Channel
	estimator  *eta.Estimator
	cfg        TrackerConfig
	logger     *zap.Logger

	mu         sync.Mutex
	delivery   domain.Delivery
	lastSample *domain.LocationSample
	estimate   *eta.Estimate
	notice     string
	watchers   int
	armed      bool
	done       bool
}

// NewTracker constructs a tracker for the given delivery. The channel is
// attached separately so its lifecycle callbacks can point back at the
// tracker; see AttachChannel.
func NewTracker(delivery domain.Delivery, api DeliveryAPI, source PositionSource, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserType == "" {
		cfg.UserType = "rider"
	}
	cfg.Poller.BatterySaver = cfg.BatterySaver
	cfg.Sender.BatterySaver = cfg.BatterySaver

	t := &Tracker{
		trackingID: delivery.TrackingID,
		api:        api,
		estimator:  eta.NewEstimator(),
		cfg:        cfg,
		logger:     logger,
		delivery:   delivery,
	}
	t.poller = NewPoller(source, t, cfg.Poller, logger.Named("poller"))
	t.sender = NewSender(delivery.TrackingID, api, t.mirrorSample, t, cfg.Sender, logger.Named("sender"))
	return t
}

// AttachChannel wires the live channel. Callbacks on the channel should be
// routed to OnChannelConnect, OnChannelMessage, OnChannelDown and
// OnChannelError.
func (t *Tracker) AttachChannel(ch Channel) {
	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()
}

// Start begins tracking. A delivery in accepted state is started over REST
// first; polling and the live channel begin only after the backend confirms.
// A delivery already in progress resumes directly.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	status := t.delivery.Status
	ch := t.channel
	t.mu.Unlock()

	switch status {
	case domain.StatusAccepted:
		updated, err := t.api.StartTracking(ctx, t.trackingID)
		if err != nil {
			return fmt.Errorf("start tracking: %w", err)
		}
		t.apply(updated)
	case domain.StatusInProgress:
		// Already running server-side, go straight to polling.
	default:
		return fmt.Errorf("%w: %s", ErrNotTrackable, status)
	}

	t.poller.StartTracking()
	if ch != nil {
		if err := ch.Connect(); err != nil {
			// REST stays the durable path; the channel keeps reconnecting or
			// lands in its terminal state on its own.
			t.logger.Warn("channel connect failed", zap.Error(err))
		}
	}
	return nil
}

// OnPosition implements PositionObserver.
func (t *Tracker) OnPosition(sample domain.LocationSample) {
	t.estimator.Observe(sample)

	t.mu.Lock()
	t.lastSample = &sample
	est := t.estimator.Estimate(sample.Point(), t.delivery.Customer.Address)
	t.estimate = &est
	t.mu.Unlock()

	t.sender.Offer(sample)
}

// OnPositionError implements PositionObserver.
func (t *Tracker) OnPositionError(err error) {
	notice := "trouble getting your location, retrying"
	if ClassifyLocationError(err) == KindPermissionDenied {
		notice = "enable location access to continue tracking"
	}
	t.setNotice(notice)
}

// SendSucceeded implements SenderEvents.
func (t *Tracker) SendSucceeded(domain.LocationSample) {
	t.setNotice("")
}

// SendDegraded implements SenderEvents.
func (t *Tracker) SendDegraded(consecutive int, err error) {
	t.logger.Warn("location updates degraded", zap.Int("consecutive", consecutive), zap.Error(err))
	t.setNotice("issues sending updates, still retrying")
}

// SendExhausted implements SenderEvents.
func (t *Tracker) SendExhausted(err error) {
	t.logger.Error("location updates exhausted retries", zap.Error(err))
	t.setNotice("location updates paused, check your connection")
}

// OnChannelConnect announces the tracker on its delivery channel.
func (t *Tracker) OnChannelConnect() {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return
	}
	ch.Send(ws.Message{
		Type:       ws.TypeJoinTracking,
		TrackingID: t.trackingID,
		UserType:   t.cfg.UserType,
	})
}

// OnChannelMessage dispatches inbound channel frames.
func (t *Tracker) OnChannelMessage(payload []byte) {
	var msg ws.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.logger.Debug("undecodable frame", zap.Error(err))
		return
	}
	switch msg.Type {
	case ws.TypeConnectionsInfo:
		t.mu.Lock()
		t.watchers = msg.ConnectionsCount
		t.mu.Unlock()
	case ws.TypePong:
		// Heartbeat acknowledgement, nothing to do.
	case ws.TypeError:
		t.logger.Warn("channel error frame", zap.String("message", msg.Message))
	}
}

// OnChannelDown records a dropped channel; reconnection is the manager's job.
func (t *Tracker) OnChannelDown(err error) {
	t.logger.Info("channel down", zap.Error(err))
}

// OnChannelError marks the channel terminally failed; REST tracking continues.
func (t *Tracker) OnChannelError(err error) {
	t.logger.Error("channel failed permanently", zap.Error(err))
	t.setNotice("live updates unavailable, tracking continues")
}

// ArmComplete arms the two-step completion confirm.
func (t *Tracker) ArmComplete() {
	t.mu.Lock()
	t.armed = true
	t.mu.Unlock()
}

// DisarmComplete cancels the confirm step; purely local.
func (t *Tracker) DisarmComplete() {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
}

// ConfirmComplete finishes the delivery: REST completion, a final status
// broadcast, then teardown of the poller. Fails if not armed.
func (t *Tracker) ConfirmComplete(ctx context.Context) error {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return ErrNotArmed
	}
	ch := t.channel
	t.mu.Unlock()

	updated, err := t.api.CompleteDelivery(ctx, t.trackingID)
	if err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	t.apply(updated)

	if ch != nil && ch.Status() == wsclient.StatusConnected {
		ch.Send(ws.Message{
			Type:       ws.TypeStatusUpdate,
			TrackingID: t.trackingID,
			Status:     domain.StatusCompleted,
		})
	}

	t.poller.StopTracking()
	t.sender.Close()

	t.mu.Lock()
	t.armed = false
	t.done = true
	t.mu.Unlock()
	return nil
}

// Close tears the tracker down: stops the poller and sender, cancels all their
// timers, and says goodbye on the channel best-effort before closing it.
func (t *Tracker) Close() {
	t.poller.StopTracking()
	t.sender.Close()

	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return
	}
	if ch.Status() == wsclient.StatusConnected {
		ch.Send(ws.Message{
			Type:       ws.TypeLeaveTracking,
			TrackingID: t.trackingID,
			UserType:   t.cfg.UserType,
			Timestamp:  time.Now().UnixMilli(),
		})
	}
	ch.Disconnect()
}

// Snapshot returns the current render state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		Delivery:      t.delivery,
		LastSample:    t.lastSample,
		Estimate:      t.estimate,
		Notice:        t.notice,
		Watchers:      t.watchers,
		CompleteArmed: t.armed,
		Done:          t.done,
	}
	if t.channel != nil {
		snap.ChannelStatus = t.channel.Status()
	}
	return snap
}

// apply replaces the cached delivery with a server response.
func (t *Tracker) apply(delivery domain.Delivery) {
	t.mu.Lock()
	t.delivery = delivery
	t.mu.Unlock()
}

func (t *Tracker) setNotice(notice string) {
	t.mu.Lock()
	t.notice = notice
	t.mu.Unlock()
}

// mirrorSample re-publishes a delivered sample over the live channel.
func (t *Tracker) mirrorSample(sample domain.LocationSample) bool {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return false
	}
	return ch.Send(ws.Message{
		Type:       ws.TypeLocationUpdate,
		TrackingID: t.trackingID,
		Location:   &sample,
		Timestamp:  sample.Timestamp.UnixMilli(),
	})
}
