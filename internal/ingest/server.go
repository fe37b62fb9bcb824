package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/courierlive/internal/delivery/domain"
)

// Server implements the PositionServer interface.
type Server struct {
	observer *SnapshotObserver
}

// NewServer constructs a server.
func NewServer(observer *SnapshotObserver) *Server {
	return &Server{observer: observer}
}

// StreamPositions ingests rider positions and updates the observer. Malformed
// messages are dropped without tearing the stream down; the closing Ack
// reports how many positions were actually accepted.
func (s *Server) StreamPositions(stream Position_StreamPositionsServer) error {
	var received int64
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{Received: received})
		}
		if err != nil {
			return err
		}
		riderID, err := uuid.Parse(msg.RiderId)
		if err != nil {
			positionsRejectedTotal.Inc()
			continue
		}
		if msg.Lat < -90 || msg.Lat > 90 || msg.Lng < -180 || msg.Lng > 180 {
			positionsRejectedTotal.Inc()
			continue
		}
		s.observer.Update(stream.Context(), riderID, domain.LocationSample{
			Latitude:  msg.Lat,
			Longitude: msg.Lng,
			Speed:     msg.Speed,
			Accuracy:  msg.Accuracy,
			Timestamp: time.UnixMilli(msg.Ts).UTC(),
		})
		received++
		positionsIngestedTotal.Inc()
	}
}

// HTTP exposes the snapshot feed for the fleet dashboard.
type HTTP struct {
	observer *SnapshotObserver
}

// NewHTTP constructs the handler.
func NewHTTP(observer *SnapshotObserver) *HTTP {
	return &HTTP{observer: observer}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/riders/locations", h.list)
	return r
}

// list serves the fleet snapshot. An optional active_within duration (for
// example "30s") narrows the response to recently updated riders.
func (h *HTTP) list(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	riders := h.observer.All()
	if raw := r.URL.Query().Get("active_within"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid active_within duration"})
			return
		}
		riders = h.observer.ActiveWithin(window)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"riders": riders, "count": len(riders)})
}
