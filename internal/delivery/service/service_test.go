package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/delivery/repository"
	"github.com/example/courierlive/internal/delivery/service"
)

type stubPublisher struct{ events []domain.DeliveryEvent }

func (s *stubPublisher) Publish(_ context.Context, event domain.DeliveryEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

func newService(clock domain.Clock) (*service.Service, *repository.MemoryRepository, *stubPublisher) {
	repo := repository.NewMemoryRepository()
	publisher := &stubPublisher{}
	return service.New(repo, nil, publisher, clock), repo, publisher
}

func seedDelivery(t *testing.T, repo *repository.MemoryRepository, d domain.Delivery) domain.Delivery {
	t.Helper()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	created, err := repo.CreateDelivery(context.Background(), d)
	require.NoError(t, err)
	return created
}

func TestCreateDeliveryIssuesTrackingID(t *testing.T) {
	svc, _, publisher := newService(stubClock{t: time.Unix(0, 0).UTC()})

	created, err := svc.CreateDelivery(context.Background(), service.CreateDeliveryRequest{
		Customer: domain.Party{Name: "Aysel", Address: domain.GeoPoint{Lat: 40.41, Lng: 49.87}},
		Package:  domain.Package{Description: "documents"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCreated, created.Status)
	require.Len(t, created.TrackingID, 10)
	require.Equal(t, strings.ToUpper(created.TrackingID), created.TrackingID)

	require.Len(t, publisher.events, 1)
	require.Equal(t, domain.EventDeliveryCreated, publisher.events[0].Type)
}

func TestAssignRiderIssuesOTP(t *testing.T) {
	clock := stubClock{t: time.Unix(1000, 0).UTC()}
	svc, repo, publisher := newService(clock)
	seedDelivery(t, repo, domain.Delivery{TrackingID: "TRACK00001", Status: domain.StatusCreated})

	rider := domain.Party{ID: uuid.New(), Name: "Elvin"}
	updated, err := svc.AssignRider(context.Background(), "TRACK00001", rider)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, updated.Status)
	require.Len(t, updated.Tracking.OTP, 6)
	require.Equal(t, clock.Now().Add(service.OTPValidity), updated.Tracking.OTPExpiry)
	require.Equal(t, domain.EventRiderAssigned, publisher.events[len(publisher.events)-1].Type)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00002",
		Status:     domain.StatusAssigned,
		Tracking:   domain.Tracking{OTP: "123456", OTPExpiry: time.Unix(2000, 0).UTC()},
	})

	_, err := svc.VerifyOTP(context.Background(), "TRACK00002", "000000")
	require.ErrorIs(t, err, domain.ErrInvalidOTP)

	// the delivery stays assigned after a wrong code
	d, err := svc.GetDelivery(context.Background(), "TRACK00002")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, d.Status)
}

func TestVerifyOTPExpired(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(5000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00003",
		Status:     domain.StatusAssigned,
		Tracking:   domain.Tracking{OTP: "123456", OTPExpiry: time.Unix(2000, 0).UTC()},
	})

	_, err := svc.VerifyOTP(context.Background(), "TRACK00003", "123456")
	require.ErrorIs(t, err, domain.ErrOTPExpired)
}

func TestVerifyOTPAccepts(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00004",
		Status:     domain.StatusAssigned,
		Tracking:   domain.Tracking{OTP: "654321", OTPExpiry: time.Unix(2000, 0).UTC()},
	})

	updated, err := svc.VerifyOTP(context.Background(), "TRACK00004", "654321")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, updated.Status)
}

func TestStartTrackingActivatesTrail(t *testing.T) {
	svc, repo, publisher := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{TrackingID: "TRACK00005", Status: domain.StatusAccepted})

	updated, err := svc.StartTracking(context.Background(), "TRACK00005")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, updated.Status)
	require.True(t, updated.Tracking.Active)
	require.NotNil(t, updated.Tracking.StartedAt)
	require.Equal(t, domain.EventTrackingStarted, publisher.events[len(publisher.events)-1].Type)
}

func TestStartTrackingRequiresAccepted(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{TrackingID: "TRACK00006", Status: domain.StatusCreated})

	_, err := svc.StartTracking(context.Background(), "TRACK00006")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateLocationAppendsTrailAndPublishes(t *testing.T) {
	svc, repo, publisher := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00007",
		Status:     domain.StatusInProgress,
		Tracking:   domain.Tracking{Active: true},
	})

	sample := domain.LocationSample{Latitude: 40.41, Longitude: 49.87, Speed: 6, Timestamp: time.Unix(1200, 0).UTC()}
	updated, err := svc.UpdateLocation(context.Background(), "TRACK00007", sample)
	require.NoError(t, err)
	require.Len(t, updated.Tracking.LocationHistory, 1)

	last := publisher.events[len(publisher.events)-1]
	require.Equal(t, domain.EventLocationUpdated, last.Type)
	require.Equal(t, 40.41, last.Payload["lat"])
}

func TestUpdateLocationRejectedWhenInactive(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{TrackingID: "TRACK00008", Status: domain.StatusAccepted})

	_, err := svc.UpdateLocation(context.Background(), "TRACK00008", domain.LocationSample{Latitude: 1, Longitude: 1})
	require.ErrorIs(t, err, domain.ErrTrackingInactive)
}

func TestCompleteDeliveryDeactivatesTracking(t *testing.T) {
	svc, repo, publisher := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00009",
		Status:     domain.StatusInProgress,
		Tracking:   domain.Tracking{Active: true},
	})

	updated, err := svc.CompleteDelivery(context.Background(), "TRACK00009")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, updated.Status)
	require.False(t, updated.Tracking.Active)
	require.NotNil(t, updated.CompletedAt)
	require.Equal(t, domain.EventDeliveryComplete, publisher.events[len(publisher.events)-1].Type)

	// completed is terminal
	_, err = svc.CompleteDelivery(context.Background(), "TRACK00009")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelCompletedDeliveryFails(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	seedDelivery(t, repo, domain.Delivery{TrackingID: "TRACK00010", Status: domain.StatusCompleted})

	_, err := svc.CancelDelivery(context.Background(), "TRACK00010")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTrailFallsBackToBoundedTail(t *testing.T) {
	svc, repo, _ := newService(stubClock{t: time.Unix(1000, 0).UTC()})
	history := make([]domain.LocationSample, 5)
	for i := range history {
		history[i] = domain.LocationSample{Latitude: float64(i), Timestamp: time.Unix(int64(1000+i), 0).UTC()}
	}
	seedDelivery(t, repo, domain.Delivery{
		TrackingID: "TRACK00011",
		Status:     domain.StatusInProgress,
		Tracking:   domain.Tracking{Active: true, LocationHistory: history},
	})

	trail, err := svc.Trail(context.Background(), "TRACK00011", 2)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, 3.0, trail[0].Latitude)
	require.Equal(t, 4.0, trail[1].Latitude)
}
