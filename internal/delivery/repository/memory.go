package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/example/courierlive/internal/delivery/domain"
)

// ErrNotFound indicates missing deliveries.
var ErrNotFound = errors.New("delivery not found")

// historyTail bounds the in-memory location trail per delivery; the full trail
// lives in the HistoryStore.
const historyTail = 100

// MemoryRepository provides an in-memory implementation suitable for tests and
// local demos.
type MemoryRepository struct {
	mu         sync.RWMutex
	deliveries map[string]domain.Delivery
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[string]domain.Delivery)}
}

// CreateDelivery stores the delivery and returns it.
func (m *MemoryRepository) CreateDelivery(_ context.Context, delivery domain.Delivery) (domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.TrackingID] = delivery
	return delivery, nil
}

// GetByTrackingID retrieves a delivery by its public tracking identifier.
func (m *MemoryRepository) GetByTrackingID(_ context.Context, trackingID string) (domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	delivery, ok := m.deliveries[trackingID]
	if !ok {
		return domain.Delivery{}, ErrNotFound
	}
	return delivery, nil
}

// UpdateDelivery replaces the stored delivery, bumping the version and trimming
// the location trail to the bounded tail.
func (m *MemoryRepository) UpdateDelivery(_ context.Context, delivery domain.Delivery) (domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.deliveries[delivery.TrackingID]
	if !ok {
		return domain.Delivery{}, ErrNotFound
	}
	delivery.Version = existing.Version + 1
	if n := len(delivery.Tracking.LocationHistory); n > historyTail {
		trimmed := make([]domain.LocationSample, historyTail)
		copy(trimmed, delivery.Tracking.LocationHistory[n-historyTail:])
		delivery.Tracking.LocationHistory = trimmed
	}
	m.deliveries[delivery.TrackingID] = delivery
	return delivery, nil
}

// ListDeliveries returns all stored deliveries.
func (m *MemoryRepository) ListDeliveries(_ context.Context) ([]domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Delivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		res = append(res, d)
	}
	return res, nil
}
