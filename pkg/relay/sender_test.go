package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/pkg/relay"
)

type recordingUpdater struct {
	mu      sync.Mutex
	sent    []domain.LocationSample
	sentAt  []time.Time
	failFor int // fail this many leading calls
	calls   int
	notify  chan struct{}
}

func newRecordingUpdater(failFor int) *recordingUpdater {
	return &recordingUpdater{failFor: failFor, notify: make(chan struct{}, 64)}
}

func (r *recordingUpdater) UpdateLocation(_ context.Context, _ string, sample domain.LocationSample) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	if call > r.failFor {
		r.sent = append(r.sent, sample)
		r.sentAt = append(r.sentAt, time.Now())
	}
	r.mu.Unlock()
	r.notify <- struct{}{}
	if call <= r.failFor {
		return errors.New("backend unavailable")
	}
	return nil
}

func (r *recordingUpdater) delivered() []domain.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LocationSample(nil), r.sent...)
}

func (r *recordingUpdater) waitCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for call %d of %d", i+1, n)
		}
	}
}

type recordingEvents struct {
	mu        sync.Mutex
	succeeded int
	degraded  int
	exhausted int
	done      chan struct{}
}

func (r *recordingEvents) SendSucceeded(domain.LocationSample) {
	r.mu.Lock()
	r.succeeded++
	r.mu.Unlock()
}

func (r *recordingEvents) SendDegraded(int, error) {
	r.mu.Lock()
	r.degraded++
	r.mu.Unlock()
}

func (r *recordingEvents) SendExhausted(error) {
	r.mu.Lock()
	r.exhausted++
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
}

func sampleAt(lat float64, ts time.Time) domain.LocationSample {
	return domain.LocationSample{Latitude: lat, Longitude: 49.87, Timestamp: ts}
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, relay.Backoff(tc.n), "n=%d", tc.n)
	}
}

func TestSenderLatestWins(t *testing.T) {
	updater := newRecordingUpdater(0)
	sender := relay.NewSender("TRACK00001", updater, nil, nil,
		relay.SenderConfig{MinInterval: 80 * time.Millisecond}, nil)
	defer sender.Close()

	base := time.Now().UTC()
	sender.Offer(sampleAt(1, base))
	updater.waitCalls(t, 1)

	// two samples inside one gap: the second must replace the first
	sender.Offer(sampleAt(2, base.Add(10*time.Millisecond)))
	sender.Offer(sampleAt(3, base.Add(20*time.Millisecond)))
	updater.waitCalls(t, 1)

	delivered := updater.delivered()
	require.Len(t, delivered, 2)
	require.Equal(t, 1.0, delivered[0].Latitude)
	require.Equal(t, 3.0, delivered[1].Latitude)
	require.False(t, sender.Pending())
}

func TestSenderHonorsMinInterval(t *testing.T) {
	updater := newRecordingUpdater(0)
	minInterval := 60 * time.Millisecond
	sender := relay.NewSender("TRACK00002", updater, nil, nil,
		relay.SenderConfig{MinInterval: minInterval}, nil)
	defer sender.Close()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		sender.Offer(sampleAt(float64(i), base.Add(time.Duration(i)*time.Millisecond)))
		time.Sleep(5 * time.Millisecond)
	}
	updater.waitCalls(t, 2)

	updater.mu.Lock()
	sentAt := append([]time.Time(nil), updater.sentAt...)
	updater.mu.Unlock()
	require.GreaterOrEqual(t, len(sentAt), 2)
	gap := sentAt[1].Sub(sentAt[0])
	require.GreaterOrEqual(t, gap, minInterval-10*time.Millisecond)
}

func TestSenderDegradedNotice(t *testing.T) {
	updater := newRecordingUpdater(1)
	events := &recordingEvents{}
	sender := relay.NewSender("TRACK00003", updater, nil, events,
		relay.SenderConfig{MinInterval: 10 * time.Millisecond, RetryCeiling: 5, NoticeAfter: 1}, nil)
	defer sender.Close()

	sender.Offer(sampleAt(1, time.Now().UTC()))
	updater.waitCalls(t, 1)

	require.Eventually(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return events.degraded >= 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, sender.Retries())
}

func TestSenderExhaustsRetryCeiling(t *testing.T) {
	updater := newRecordingUpdater(100)
	events := &recordingEvents{done: make(chan struct{})}
	sender := relay.NewSender("TRACK00004", updater, nil, events,
		relay.SenderConfig{MinInterval: 10 * time.Millisecond, RetryCeiling: 1, NoticeAfter: 5}, nil)
	defer sender.Close()

	sender.Offer(sampleAt(1, time.Now().UTC()))
	select {
	case <-events.done:
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion never fired")
	}
	require.False(t, sender.Pending())
	require.Empty(t, updater.delivered())
}

func TestSenderCloseCancelsPendingTimer(t *testing.T) {
	updater := newRecordingUpdater(0)
	sender := relay.NewSender("TRACK00005", updater, nil, nil,
		relay.SenderConfig{MinInterval: time.Hour}, nil)

	base := time.Now().UTC()
	sender.Offer(sampleAt(1, base))
	updater.waitCalls(t, 1)

	// buffered behind a huge gap; Close must cancel the armed timer
	sender.Offer(sampleAt(2, base.Add(time.Second)))
	sender.Close()

	time.Sleep(50 * time.Millisecond)
	require.Len(t, updater.delivered(), 1)
}

func TestSenderMirrorsDeliveredSamples(t *testing.T) {
	updater := newRecordingUpdater(0)
	var mu sync.Mutex
	var mirrored []domain.LocationSample
	mirror := func(sample domain.LocationSample) bool {
		mu.Lock()
		mirrored = append(mirrored, sample)
		mu.Unlock()
		return true
	}
	sender := relay.NewSender("TRACK00006", updater, mirror, nil,
		relay.SenderConfig{MinInterval: 10 * time.Millisecond}, nil)
	defer sender.Close()

	sender.Offer(sampleAt(7, time.Now().UTC()))
	updater.waitCalls(t, 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mirrored) == 1 && mirrored[0].Latitude == 7.0
	}, time.Second, 5*time.Millisecond)
}
