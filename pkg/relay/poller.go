package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/courierlive/internal/delivery/domain"
)

// PollerConfig tunes position acquisition. Zero values fall back to defaults.
type PollerConfig struct {
	// PollInterval is the forced re-fetch cadence guarding against a stalled
	// watch. Defaults to 15s, 45s in battery-saver mode.
	PollInterval time.Duration
	// BatterySaver stretches intervals and keeps accuracy low.
	BatterySaver bool
	// RetryMax bounds acquisition retries per forced fix. Default 3.
	RetryMax int
	// RetryDelay is multiplied by the attempt number. Default 1s.
	RetryDelay time.Duration
	// SourceDebounce drops samples arriving within this window of the last
	// accepted one. Default 3s.
	SourceDebounce time.Duration
	// SkipInitialFix skips the immediate fix on start, useful when permission
	// is already known-granted and the watch delivers promptly.
	SkipInitialFix bool
}

func (c *PollerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		if c.BatterySaver {
			c.PollInterval = 45 * time.Second
		} else {
			c.PollInterval = 15 * time.Second
		}
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.SourceDebounce <= 0 {
		c.SourceDebounce = 3 * time.Second
	}
}

// Poller produces a continuous stream of position samples from a
// PositionSource. Acquisition combines an immediate fix on start, a continuous
// watch subscription, and a periodic forced re-fetch so freshness is
// guaranteed even if the watch stalls.
type Poller struct {
	source   PositionSource
	observer PositionObserver
	cfg      PollerConfig
	logger   *zap.Logger

	mu           sync.Mutex
	tracking     bool
	latest       *domain.LocationSample
	lastErr      error
	retries      int
	lastAccepted time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewPoller constructs a poller.
func NewPoller(source PositionSource, observer PositionObserver, cfg PollerConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Poller{source: source, observer: observer, cfg: cfg, logger: logger}
}

// StartTracking begins continuous acquisition. Calling it while tracking is a
// no-op.
func (p *Poller) StartTracking() {
	p.mu.Lock()
	if p.tracking {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.tracking = true
	p.retries = 0
	p.mu.Unlock()

	if !p.cfg.SkipInitialFix {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.acquireWithRetry(ctx)
		}()
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.watchLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.refreshLoop(ctx)
	}()
}

// StopTracking halts acquisition and waits for the internal goroutines, so no
// observer callback fires after it returns.
func (p *Poller) StopTracking() {
	p.mu.Lock()
	if !p.tracking {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.cancel = nil
	p.tracking = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// IsTracking reports whether acquisition is running.
func (p *Poller) IsTracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracking
}

// Latest returns the most recent accepted sample.
func (p *Poller) Latest() (domain.LocationSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return domain.LocationSample{}, false
	}
	return *p.latest, true
}

// Err returns the last surfaced acquisition error, cleared on any success.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) fixOptions() FixOptions {
	return FixOptions{
		HighAccuracy: !p.cfg.BatterySaver,
		Timeout:      10 * time.Second,
		MaximumAge:   5 * time.Second,
	}
}

func (p *Poller) watchLoop(ctx context.Context) {
	fixes, err := p.source.Watch(ctx, p.fixOptions())
	if err != nil {
		p.surface(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if fix.Err != nil {
				p.surface(fix.Err)
				continue
			}
			p.accept(fix.Sample)
		}
	}
}

func (p *Poller) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.acquireWithRetry(ctx)
		}
	}
}

// acquireWithRetry obtains one fix, retrying with linearly increasing delay.
// Permission failures stop the attempt immediately.
func (p *Poller) acquireWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= p.cfg.RetryMax; attempt++ {
		sample, err := p.source.Current(ctx, p.fixOptions())
		if err == nil {
			p.accept(sample)
			return
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		var le *LocationError
		if errors.As(err, &le) && !le.Retryable() {
			p.surface(err)
			return
		}
		p.logger.Warn("fix failed", zap.Error(err), zap.Int("attempt", attempt))
		if attempt == p.cfg.RetryMax {
			p.surface(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * p.cfg.RetryDelay):
		}
	}
}

// accept records a sample unless it arrives inside the debounce window of the
// last accepted one. Any success clears the error state and retry counter.
func (p *Poller) accept(sample domain.LocationSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	if !p.tracking {
		p.mu.Unlock()
		return
	}
	if !p.lastAccepted.IsZero() && sample.Timestamp.Sub(p.lastAccepted) < p.cfg.SourceDebounce {
		p.mu.Unlock()
		samplesDroppedTotal.Inc()
		return
	}
	p.lastAccepted = sample.Timestamp
	p.latest = &sample
	p.lastErr = nil
	p.retries = 0
	p.mu.Unlock()

	samplesAcceptedTotal.Inc()
	if p.observer != nil {
		p.observer.OnPosition(sample)
	}
}

func (p *Poller) surface(err error) {
	p.mu.Lock()
	tracking := p.tracking
	p.lastErr = err
	p.mu.Unlock()
	if !tracking {
		return
	}
	p.logger.Warn("acquisition error", zap.Error(err), zap.String("kind", string(ClassifyLocationError(err))))
	if p.observer != nil {
		p.observer.OnPositionError(err)
	}
}
