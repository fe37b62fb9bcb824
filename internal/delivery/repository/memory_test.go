package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/delivery/repository"
)

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	created, err := repo.CreateDelivery(ctx, domain.Delivery{
		ID:         uuid.New(),
		TrackingID: "TRACK00001",
		Status:     domain.StatusCreated,
		Version:    1,
	})
	require.NoError(t, err)

	fetched, err := repo.GetByTrackingID(ctx, "TRACK00001")
	require.NoError(t, err)
	require.Equal(t, created.ID, fetched.ID)

	_, err = repo.GetByTrackingID(ctx, "MISSING")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRepositoryUpdateBumpsVersion(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	created, err := repo.CreateDelivery(ctx, domain.Delivery{
		ID: uuid.New(), TrackingID: "TRACK00002", Status: domain.StatusCreated, Version: 1,
	})
	require.NoError(t, err)

	created.Status = domain.StatusAssigned
	updated, err := repo.UpdateDelivery(ctx, created)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = repo.UpdateDelivery(ctx, domain.Delivery{TrackingID: "MISSING"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRepositoryTrimsTrail(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	d, err := repo.CreateDelivery(ctx, domain.Delivery{
		ID: uuid.New(), TrackingID: "TRACK00003", Status: domain.StatusInProgress, Version: 1,
	})
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		d.Tracking.LocationHistory = append(d.Tracking.LocationHistory, domain.LocationSample{
			Latitude:  float64(i),
			Timestamp: time.Unix(int64(i), 0).UTC(),
		})
	}
	updated, err := repo.UpdateDelivery(ctx, d)
	require.NoError(t, err)
	require.Len(t, updated.Tracking.LocationHistory, 100)
	// newest tail survives
	require.Equal(t, 149.0, updated.Tracking.LocationHistory[99].Latitude)
	require.Equal(t, 50.0, updated.Tracking.LocationHistory[0].Latitude)
}
