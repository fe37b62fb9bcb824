package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/courierlive/internal/delivery/domain"
)

// OTPValidity is how long an issued passcode stays usable.
const OTPValidity = 10 * time.Minute

// Service coordinates delivery operations between handlers and repositories.
type Service struct {
	repo    domain.Repository
	history domain.HistoryStore
	events  domain.EventPublisher
	clock   domain.Clock
}

// New constructs a Service with the required collaborators. The history store
// may be nil, in which case only the bounded in-memory trail is kept.
func New(repo domain.Repository, history domain.HistoryStore, events domain.EventPublisher, clock domain.Clock) *Service {
	return &Service{repo: repo, history: history, events: events, clock: clock}
}

// CreateDeliveryRequest contains the request payload for creating a delivery.
type CreateDeliveryRequest struct {
	Customer domain.Party
	Package  domain.Package
}

// CreateDelivery registers a new delivery with a fresh tracking identifier.
func (s *Service) CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (domain.Delivery, error) {
	delivery := domain.Delivery{
		ID:         uuid.New(),
		TrackingID: newTrackingID(),
		Status:     domain.StatusCreated,
		Customer:   req.Customer,
		Package:    req.Package,
		CreatedAt:  s.clock.Now(),
		Version:    1,
	}
	created, err := s.repo.CreateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("create delivery: %w", err)
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: created.TrackingID,
		Type:       domain.EventDeliveryCreated,
		Payload:    map[string]any{"customer": created.Customer.Name},
		CreatedAt:  s.clock.Now(),
	})
	return created, nil
}

// GetDelivery retrieves a delivery by tracking ID.
func (s *Service) GetDelivery(ctx context.Context, trackingID string) (domain.Delivery, error) {
	return s.repo.GetByTrackingID(ctx, trackingID)
}

// AssignRider attaches a rider to the delivery and issues a fresh OTP gating
// the rider's start of tracking.
func (s *Service) AssignRider(ctx context.Context, trackingID string, rider domain.Party) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if !delivery.Status.CanTransitionTo(domain.StatusAssigned) {
		return domain.Delivery{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	delivery.Status = domain.StatusAssigned
	delivery.Rider = &rider
	delivery.AssignedAt = &now
	delivery.Tracking.OTP = newOTP()
	delivery.Tracking.OTPExpiry = now.Add(OTPValidity)

	updated, err := s.repo.UpdateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, err
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: updated.TrackingID,
		Type:       domain.EventRiderAssigned,
		Payload:    map[string]any{"rider_id": rider.ID.String()},
		CreatedAt:  now,
	})
	return updated, nil
}

// VerifyOTP checks the rider's passcode. A correct, unexpired code moves the
// delivery to accepted; a wrong code leaves the delivery untouched.
func (s *Service) VerifyOTP(ctx context.Context, trackingID, otp string) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if delivery.Tracking.OTP == "" || delivery.Tracking.OTP != otp {
		return domain.Delivery{}, domain.ErrInvalidOTP
	}
	if s.clock.Now().After(delivery.Tracking.OTPExpiry) {
		return domain.Delivery{}, domain.ErrOTPExpired
	}
	if delivery.Status != domain.StatusAssigned {
		return domain.Delivery{}, domain.ErrInvalidTransition
	}

	delivery.Status = domain.StatusAccepted
	return s.repo.UpdateDelivery(ctx, delivery)
}

// StartTracking transitions to in_progress and activates the live trail.
func (s *Service) StartTracking(ctx context.Context, trackingID string) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if delivery.Status != domain.StatusAccepted {
		return domain.Delivery{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	delivery.Status = domain.StatusInProgress
	delivery.Tracking.Active = true
	delivery.Tracking.StartedAt = &now

	updated, err := s.repo.UpdateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, err
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: updated.TrackingID,
		Type:       domain.EventTrackingStarted,
		CreatedAt:  now,
	})
	return updated, nil
}

// UpdateLocation appends a rider position to the delivery trail. Updates are
// accepted only while tracking is active.
func (s *Service) UpdateLocation(ctx context.Context, trackingID string, sample domain.LocationSample) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if !delivery.Tracking.Active || delivery.Status != domain.StatusInProgress {
		return domain.Delivery{}, domain.ErrTrackingInactive
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clock.Now()
	}

	delivery.Tracking.LocationHistory = append(delivery.Tracking.LocationHistory, sample)
	updated, err := s.repo.UpdateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, err
	}
	if s.history != nil {
		if err := s.history.Append(ctx, trackingID, sample); err != nil {
			return domain.Delivery{}, fmt.Errorf("append trail: %w", err)
		}
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: updated.TrackingID,
		Type:       domain.EventLocationUpdated,
		Payload:    map[string]any{"lat": sample.Latitude, "lng": sample.Longitude},
		CreatedAt:  sample.Timestamp,
	})
	return updated, nil
}

// CompleteDelivery marks the delivery as delivered and deactivates tracking.
func (s *Service) CompleteDelivery(ctx context.Context, trackingID string) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if delivery.Status != domain.StatusInProgress {
		return domain.Delivery{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	delivery.Status = domain.StatusCompleted
	delivery.Tracking.Active = false
	delivery.CompletedAt = &now

	updated, err := s.repo.UpdateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, err
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: updated.TrackingID,
		Type:       domain.EventDeliveryComplete,
		CreatedAt:  now,
	})
	return updated, nil
}

// CancelDelivery aborts a delivery that has not finished yet.
func (s *Service) CancelDelivery(ctx context.Context, trackingID string) (domain.Delivery, error) {
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if !delivery.Status.CanTransitionTo(domain.StatusCancelled) {
		return domain.Delivery{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	delivery.Status = domain.StatusCancelled
	delivery.Tracking.Active = false
	delivery.CancelledAt = &now

	updated, err := s.repo.UpdateDelivery(ctx, delivery)
	if err != nil {
		return domain.Delivery{}, err
	}
	_ = s.events.Publish(ctx, domain.DeliveryEvent{
		TrackingID: updated.TrackingID,
		Type:       domain.EventDeliveryCancel,
		CreatedAt:  now,
	})
	return updated, nil
}

// Trail returns the persisted trail for a delivery, falling back to the
// bounded in-memory tail when no history store is configured.
func (s *Service) Trail(ctx context.Context, trackingID string, limit int) ([]domain.LocationSample, error) {
	if s.history != nil {
		return s.history.Trail(ctx, trackingID, limit)
	}
	delivery, err := s.repo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	trail := delivery.Tracking.LocationHistory
	if limit > 0 && len(trail) > limit {
		trail = trail[len(trail)-limit:]
	}
	return trail, nil
}

func newTrackingID() string {
	id := uuid.New().String()
	return strings.ToUpper(strings.ReplaceAll(id, "-", "")[:10])
}

func newOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		// crypto/rand failing is unrecoverable for passcode issuance
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
