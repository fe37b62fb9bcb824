// Package ingest accepts high-frequency rider position streams over gRPC for
// the vendor fleet dashboard, independent of the per-delivery relay path.
package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/courierlive/internal/delivery/domain"
)

// RiderSnapshot is the latest known position for one rider.
type RiderSnapshot struct {
	RiderID uuid.UUID             `json:"rider_id"`
	Sample  domain.LocationSample `json:"sample"`
	Updated time.Time             `json:"updated"`
}

// SnapshotObserver stores the latest rider snapshots.
type SnapshotObserver struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]RiderSnapshot
}

// NewSnapshotObserver constructs the observer.
func NewSnapshotObserver() *SnapshotObserver {
	return &SnapshotObserver{snapshots: make(map[uuid.UUID]RiderSnapshot)}
}

// Update stores snapshot data.
func (o *SnapshotObserver) Update(_ context.Context, riderID uuid.UUID, sample domain.LocationSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[riderID] = RiderSnapshot{
		RiderID: riderID,
		Sample:  sample,
		Updated: time.Now().UTC(),
	}
}

// Snapshot returns the stored snapshot for one rider.
func (o *SnapshotObserver) Snapshot(_ context.Context, riderID uuid.UUID) (RiderSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.snapshots[riderID]
	return snap, ok
}

// All returns every snapshot, ordered by rider ID so the dashboard feed is
// stable across refreshes.
func (o *SnapshotObserver) All() []RiderSnapshot {
	return o.collect(func(RiderSnapshot) bool { return true })
}

// ActiveWithin returns the snapshots updated within the given window.
func (o *SnapshotObserver) ActiveWithin(window time.Duration) []RiderSnapshot {
	cutoff := time.Now().UTC().Add(-window)
	return o.collect(func(snap RiderSnapshot) bool {
		return !snap.Updated.Before(cutoff)
	})
}

func (o *SnapshotObserver) collect(keep func(RiderSnapshot) bool) []RiderSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make([]RiderSnapshot, 0, len(o.snapshots))
	for _, snap := range o.snapshots {
		if keep(snap) {
			res = append(res, snap)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].RiderID.String() < res[j].RiderID.String()
	})
	return res
}
