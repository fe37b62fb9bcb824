package relay

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/example/courierlive/internal/delivery/domain"
)

// SimulatedSource produces a synthetic ride from an origin toward a
// destination at roughly the configured speed. Useful for demos and load
// checks without a GPS device.
type SimulatedSource struct {
	mu       sync.Mutex
	position domain.GeoPoint
	dest     domain.GeoPoint
	speedMS  float64
	interval time.Duration
	started  time.Time
}

// NewSimulatedSource constructs a source travelling origin→dest at speedKMH,
// emitting a fix every interval.
func NewSimulatedSource(origin, dest domain.GeoPoint, speedKMH float64, interval time.Duration) *SimulatedSource {
	if speedKMH <= 0 {
		speedKMH = 25
	}
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &SimulatedSource{
		position: origin,
		dest:     dest,
		speedMS:  speedKMH * 1000 / 3600,
		interval: interval,
		started:  time.Now(),
	}
}

// Current implements PositionSource.
func (s *SimulatedSource) Current(ctx context.Context, _ FixOptions) (domain.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.LocationSample{}, &LocationError{Kind: KindTimeout, Err: err}
	}
	return s.sample(), nil
}

// Watch implements PositionSource.
func (s *SimulatedSource) Watch(ctx context.Context, _ FixOptions) (<-chan Fix, error) {
	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- Fix{Sample: s.advance()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *SimulatedSource) sample() domain.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleLocked()
}

func (s *SimulatedSource) advance() domain.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Step toward the destination by one interval's worth of travel.
	dLat := s.dest.Lat - s.position.Lat
	dLng := s.dest.Lng - s.position.Lng
	dist := math.Hypot(dLat, dLng)
	if dist > 1e-6 {
		stepDeg := (s.speedMS * s.interval.Seconds()) / 111000.0
		if stepDeg > dist {
			stepDeg = dist
		}
		s.position.Lat += dLat / dist * stepDeg
		s.position.Lng += dLng / dist * stepDeg
	}
	return s.sampleLocked()
}

func (s *SimulatedSource) sampleLocked() domain.LocationSample {
	jitter := 0.9 + rand.Float64()*0.2
	return domain.LocationSample{
		Latitude:  s.position.Lat,
		Longitude: s.position.Lng,
		Accuracy:  5 + rand.Float64()*10,
		Speed:     s.speedMS * jitter,
		Timestamp: time.Now().UTC(),
	}
}
