package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	StatusCreated    DeliveryStatus = "created"
	StatusAssigned   DeliveryStatus = "assigned"
	StatusAccepted   DeliveryStatus = "accepted"
	StatusInProgress DeliveryStatus = "in_progress"
	StatusCompleted  DeliveryStatus = "completed"
	StatusCancelled  DeliveryStatus = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid delivery state transition")
var ErrInvalidOTP = errors.New("invalid OTP")
var ErrOTPExpired = errors.New("OTP expired")
var ErrTrackingInactive = errors.New("tracking not active")

var allowedTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusCreated:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSample is a single GPS fix reported by a rider. Samples are immutable
// once created; superseded samples may be discarded before they are ever sent.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s LocationSample) Point() GeoPoint {
	return GeoPoint{Lat: s.Latitude, Lng: s.Longitude}
}

type Party struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Phone   string    `json:"phone,omitempty"`
	Address GeoPoint  `json:"address"`
}

type Package struct {
	Description string  `json:"description"`
	WeightKG    float64 `json:"weight_kg,omitempty"`
}

// Tracking carries the OTP gate and the live-location trail for one delivery.
type Tracking struct {
	OTP             string           `json:"-"`
	OTPExpiry       time.Time        `json:"otp_expiry"`
	Active          bool             `json:"active"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	LocationHistory []LocationSample `json:"location_history"`
}

type Delivery struct {
	ID         uuid.UUID      `json:"id"`
	TrackingID string         `json:"tracking_id"`
	Status     DeliveryStatus `json:"status"`
	Customer   Party          `json:"customer"`
	Rider      *Party         `json:"rider,omitempty"`
	Package    Package        `json:"package"`
	Tracking   Tracking       `json:"tracking"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int64      `json:"version"`
}

type DeliveryEventType string

const (
	EventDeliveryCreated  DeliveryEventType = "DeliveryCreated"
	EventRiderAssigned    DeliveryEventType = "RiderAssigned"
	EventTrackingStarted  DeliveryEventType = "TrackingStarted"
	EventLocationUpdated  DeliveryEventType = "LocationUpdated"
	EventDeliveryComplete DeliveryEventType = "DeliveryCompleted"
	EventDeliveryCancel   DeliveryEventType = "DeliveryCancelled"
)

type DeliveryEvent struct {
	ID         int64             `json:"id,omitempty"`
	TrackingID string            `json:"tracking_id"`
	Type       DeliveryEventType `json:"type"`
	Payload    map[string]any    `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Repository abstracts delivery persistence so the in-memory store used for
// local runs can be swapped for a real backend without touching callers.
type Repository interface {
	CreateDelivery(ctx context.Context, delivery Delivery) (Delivery, error)
	GetByTrackingID(ctx context.Context, trackingID string) (Delivery, error)
	UpdateDelivery(ctx context.Context, delivery Delivery) (Delivery, error)
	ListDeliveries(ctx context.Context) ([]Delivery, error)
}

// HistoryStore persists the full location trail; the in-memory Delivery copy
// keeps only a bounded tail.
type HistoryStore interface {
	Append(ctx context.Context, trackingID string, sample LocationSample) error
	Trail(ctx context.Context, trackingID string, limit int) ([]LocationSample, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
