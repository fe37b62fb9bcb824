package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/pkg/relay"
)

type scriptedSource struct {
	mu       sync.Mutex
	current  []func() (domain.LocationSample, error)
	watch    chan relay.Fix
	watchErr error
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{watch: make(chan relay.Fix, 16)}
}

func (s *scriptedSource) Current(_ context.Context, _ relay.FixOptions) (domain.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.current) == 0 {
		return domain.LocationSample{Latitude: 99, Timestamp: time.Now().UTC()}, nil
	}
	next := s.current[0]
	s.current = s.current[1:]
	return next()
}

func (s *scriptedSource) Watch(_ context.Context, _ relay.FixOptions) (<-chan relay.Fix, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	return s.watch, nil
}

type collectingObserver struct {
	mu      sync.Mutex
	samples []domain.LocationSample
	errs    []error
	gotOne  chan struct{}
	gotErr  chan struct{}
}

func newCollectingObserver() *collectingObserver {
	return &collectingObserver{gotOne: make(chan struct{}, 64), gotErr: make(chan struct{}, 64)}
}

func (o *collectingObserver) OnPosition(sample domain.LocationSample) {
	o.mu.Lock()
	o.samples = append(o.samples, sample)
	o.mu.Unlock()
	o.gotOne <- struct{}{}
}

func (o *collectingObserver) OnPositionError(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.gotErr <- struct{}{}
}

func (o *collectingObserver) collected() []domain.LocationSample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.LocationSample(nil), o.samples...)
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observer callback")
	}
}

func TestPollerDebouncesBurstySamples(t *testing.T) {
	source := newScriptedSource()
	observer := newCollectingObserver()
	poller := relay.NewPoller(source, observer, relay.PollerConfig{
		PollInterval:   time.Hour,
		SkipInitialFix: true,
	}, nil)

	poller.StartTracking()
	defer poller.StopTracking()

	base := time.Now().UTC()
	source.watch <- relay.Fix{Sample: domain.LocationSample{Latitude: 1, Timestamp: base}}
	waitSignal(t, observer.gotOne)

	// inside the 3s debounce window: dropped without a callback
	source.watch <- relay.Fix{Sample: domain.LocationSample{Latitude: 2, Timestamp: base.Add(time.Second)}}
	// outside the window: accepted
	source.watch <- relay.Fix{Sample: domain.LocationSample{Latitude: 3, Timestamp: base.Add(4 * time.Second)}}
	waitSignal(t, observer.gotOne)

	collected := observer.collected()
	require.Len(t, collected, 2)
	require.Equal(t, 1.0, collected[0].Latitude)
	require.Equal(t, 3.0, collected[1].Latitude)

	latest, ok := poller.Latest()
	require.True(t, ok)
	require.Equal(t, 3.0, latest.Latitude)
}

func TestPollerRetriesTransientFixFailures(t *testing.T) {
	source := newScriptedSource()
	fail := func() (domain.LocationSample, error) {
		return domain.LocationSample{}, &relay.LocationError{Kind: relay.KindTimeout}
	}
	ok := func() (domain.LocationSample, error) {
		return domain.LocationSample{Latitude: 42, Timestamp: time.Now().UTC()}, nil
	}
	source.current = []func() (domain.LocationSample, error){fail, fail, ok}

	observer := newCollectingObserver()
	poller := relay.NewPoller(source, observer, relay.PollerConfig{
		PollInterval: time.Hour,
		RetryMax:     3,
		RetryDelay:   time.Millisecond,
	}, nil)

	poller.StartTracking()
	defer poller.StopTracking()

	waitSignal(t, observer.gotOne)
	require.Equal(t, 42.0, observer.collected()[0].Latitude)
	require.NoError(t, poller.Err())
}

func TestPollerStopsOnPermissionDenied(t *testing.T) {
	source := newScriptedSource()
	denied := func() (domain.LocationSample, error) {
		return domain.LocationSample{}, &relay.LocationError{Kind: relay.KindPermissionDenied}
	}
	// a single attempt: permission failures must not be retried
	source.current = []func() (domain.LocationSample, error){denied}

	observer := newCollectingObserver()
	poller := relay.NewPoller(source, observer, relay.PollerConfig{
		PollInterval: time.Hour,
		RetryMax:     3,
		RetryDelay:   time.Millisecond,
	}, nil)

	poller.StartTracking()
	defer poller.StopTracking()

	waitSignal(t, observer.gotErr)
	require.Empty(t, observer.collected())
	require.Error(t, poller.Err())
	require.Equal(t, relay.KindPermissionDenied, relay.ClassifyLocationError(poller.Err()))

	source.mu.Lock()
	remaining := len(source.current)
	source.mu.Unlock()
	require.Zero(t, remaining)
}

func TestPollerForcedRefreshCoversStalledWatch(t *testing.T) {
	source := newScriptedSource()
	base := time.Now().UTC()
	// the watch never emits; only the periodic forced re-fetch produces fixes
	fix := func(lat float64, ts time.Time) func() (domain.LocationSample, error) {
		return func() (domain.LocationSample, error) {
			return domain.LocationSample{Latitude: lat, Timestamp: ts}, nil
		}
	}
	source.current = []func() (domain.LocationSample, error){
		fix(1, base),
		fix(2, base.Add(10*time.Second)),
		fix(3, base.Add(20*time.Second)),
	}

	observer := newCollectingObserver()
	poller := relay.NewPoller(source, observer, relay.PollerConfig{
		PollInterval:   20 * time.Millisecond,
		SkipInitialFix: true,
	}, nil)

	poller.StartTracking()
	defer poller.StopTracking()

	waitSignal(t, observer.gotOne)
	waitSignal(t, observer.gotOne)

	collected := observer.collected()
	require.GreaterOrEqual(t, len(collected), 2)
	require.Equal(t, 1.0, collected[0].Latitude)
	require.Equal(t, 2.0, collected[1].Latitude)
}

func TestPollerStopTrackingIsIdempotent(t *testing.T) {
	source := newScriptedSource()
	observer := newCollectingObserver()
	poller := relay.NewPoller(source, observer, relay.PollerConfig{
		PollInterval:   time.Hour,
		SkipInitialFix: true,
	}, nil)

	poller.StartTracking()
	require.True(t, poller.IsTracking())
	poller.StartTracking() // no-op while running

	poller.StopTracking()
	require.False(t, poller.IsTracking())
	poller.StopTracking() // safe to repeat
}
