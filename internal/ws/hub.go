// Package ws implements the per-delivery WebSocket broadcast hub. Riders push
// live frames into their delivery channel and customers watching the same
// tracking ID receive them in real time.
package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// frame pairs an encoded message with its origin so the sender is excluded
// from the fan-out.
type frame struct {
	trackingID string
	payload    []byte
	sender     *session
}

// Hub owns channel membership and serializes all mutations through its run
// loop, so no lock is needed around the channel maps.
type Hub struct {
	channels map[string]map[*session]struct{}

	register   chan *session
	unregister chan *session
	frames     chan frame

	logger *zap.Logger
}

// NewHub constructs a hub. Run must be started before handlers attach sessions.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels:   make(map[string]map[*session]struct{}),
		register:   make(chan *session, 64),
		unregister: make(chan *session, 64),
		frames:     make(chan frame, 256),
		logger:     logger,
	}
}

// Run processes membership changes and broadcasts until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case f := <-h.frames:
			h.fanOut(f)
		}
	}
}

// Broadcast publishes a server-originated message to every subscriber of the
// channel, for example a status change applied over REST.
func (h *Hub) Broadcast(trackingID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast", zap.Error(err))
		return
	}
	select {
	case h.frames <- frame{trackingID: trackingID, payload: payload}:
	default:
		// Run is gone or the buffer is saturated; never block a caller.
		hubDroppedTotal.Inc()
	}
}

func (h *Hub) add(s *session) {
	subs, ok := h.channels[s.trackingID]
	if !ok {
		subs = make(map[*session]struct{})
		h.channels[s.trackingID] = subs
	}
	subs[s] = struct{}{}
	hubConnections.Inc()
	h.logger.Info("subscriber joined",
		zap.String("tracking_id", s.trackingID),
		zap.String("user_type", s.userType),
		zap.Int("channel_size", len(subs)))
	h.announceCount(s.trackingID)
}

func (h *Hub) remove(s *session) {
	subs, ok := h.channels[s.trackingID]
	if !ok {
		return
	}
	if _, member := subs[s]; !member {
		return
	}
	delete(subs, s)
	close(s.send)
	hubConnections.Dec()
	if len(subs) == 0 {
		delete(h.channels, s.trackingID)
		return
	}
	h.announceCount(s.trackingID)
}

func (h *Hub) fanOut(f frame) {
	for s := range h.channels[f.trackingID] {
		if s == f.sender {
			continue
		}
		select {
		case s.send <- f.payload:
		default:
			// Slow consumer: drop the frame rather than stall the channel.
			hubDroppedTotal.Inc()
		}
	}
}

func (h *Hub) announceCount(trackingID string) {
	count := len(h.channels[trackingID])
	payload, err := json.Marshal(Message{
		Type:             TypeConnectionsInfo,
		TrackingID:       trackingID,
		ConnectionsCount: count,
	})
	if err != nil {
		return
	}
	h.fanOut(frame{trackingID: trackingID, payload: payload})
}

func (h *Hub) shutdown() {
	for trackingID, subs := range h.channels {
		for s := range subs {
			close(s.send)
		}
		delete(h.channels, trackingID)
	}
	h.logger.Info("hub stopped")
}
