// Package eta derives distance and arrival estimates from rider location
// samples using haversine distance and a smoothed average speed.
package eta

import (
	"math"
	"sync"
	"time"

	"github.com/example/courierlive/internal/delivery/domain"
)

const (
	// speedWindow is the number of recent nonzero speed samples averaged.
	speedWindow = 10
	// minSpeedKMH floors the smoothed speed so stop-and-go traffic does not
	// blow the estimate up.
	minSpeedKMH = 15.0
	// defaultSpeedKMH is used before any speed sample has been observed.
	defaultSpeedKMH = 22.0

	// shortTripBufferMeters splits the fixed arrival buffer tiers.
	shortTripBufferMeters = 2000.0
	shortTripBuffer       = 2 * time.Minute
	longTripBuffer        = 5 * time.Minute
)

// Estimate is a point-in-time distance and arrival projection.
type Estimate struct {
	DistanceMeters float64
	SpeedKMH       float64
	Duration       time.Duration
}

// Estimator keeps a rolling window of rider speeds and turns positions into
// arrival estimates. Safe for concurrent use.
type Estimator struct {
	mu     sync.Mutex
	speeds []float64 // m/s, newest last
}

// NewEstimator constructs an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Observe records the speed carried by a location sample. Zero speeds are
// ignored so idling at a light does not drag the average to a crawl.
func (e *Estimator) Observe(sample domain.LocationSample) {
	if sample.Speed <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speeds = append(e.speeds, sample.Speed)
	if len(e.speeds) > speedWindow {
		e.speeds = e.speeds[len(e.speeds)-speedWindow:]
	}
}

// SmoothedSpeedKMH returns the floored rolling average speed, or the static
// default when no samples exist yet.
func (e *Estimator) SmoothedSpeedKMH() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.speeds) == 0 {
		return defaultSpeedKMH
	}
	var sum float64
	for _, s := range e.speeds {
		sum += s
	}
	kmh := (sum / float64(len(e.speeds))) * 3.6
	if kmh < minSpeedKMH {
		return minSpeedKMH
	}
	return kmh
}

// Estimate projects the arrival at dest from the rider's current position,
// adding a fixed buffer for parking and handover.
func (e *Estimator) Estimate(from, dest domain.GeoPoint) Estimate {
	dist := Haversine(from, dest)
	speed := e.SmoothedSpeedKMH()
	metersPerSecond := speed * 1000.0 / 3600.0

	travel := time.Duration(dist/metersPerSecond) * time.Second
	buffer := longTripBuffer
	if dist < shortTripBufferMeters {
		buffer = shortTripBuffer
	}
	return Estimate{
		DistanceMeters: dist,
		SpeedKMH:       speed,
		Duration:       travel + buffer,
	}
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b domain.GeoPoint) float64 {
	const earthRadius = 6371000.0
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return earthRadius * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
