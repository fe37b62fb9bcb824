package relay

import (
	"context"
	"time"

	"github.com/example/courierlive/internal/delivery/domain"
)

// FixOptions mirror the tunables of a positioning device: accuracy/battery
// trade-off, how long a single fix may take, and how stale a cached fix may be.
type FixOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Fix is one event on a watch stream: either a sample or a failure.
type Fix struct {
	Sample domain.LocationSample
	Err    error
}

// PositionSource abstracts the positioning device. Implementations include GPS
// daemons, replay files, and simulators; failures should be *LocationError so
// the poller can tell terminal from retryable ones.
type PositionSource interface {
	// Current obtains a single fix.
	Current(ctx context.Context, opts FixOptions) (domain.LocationSample, error)
	// Watch emits fixes until the context is cancelled. The returned channel
	// is closed when the watch ends.
	Watch(ctx context.Context, opts FixOptions) (<-chan Fix, error)
}

// PositionObserver receives poller output. Callbacks run on the poller's
// goroutines and must not block.
type PositionObserver interface {
	OnPosition(domain.LocationSample)
	OnPositionError(error)
}
