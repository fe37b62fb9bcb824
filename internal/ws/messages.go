package ws

import (
	"github.com/example/courierlive/internal/delivery/domain"
)

// MessageType enumerates the wire vocabulary for delivery channels. This is
// the canonical set: connections_info carries the subscriber count, pings are
// answered with pong, and fatal channel problems arrive as error messages.
type MessageType string

const (
	TypeJoinTracking    MessageType = "join_tracking"
	TypeLeaveTracking   MessageType = "leave_tracking"
	TypeLocationUpdate  MessageType = "location_update"
	TypeStatusUpdate    MessageType = "status_update"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypeConnectionsInfo MessageType = "connections_info"
	TypeError           MessageType = "error"
)

// Message is the single frame shape shared by both directions.
type Message struct {
	Type             MessageType            `json:"type"`
	TrackingID       string                 `json:"tracking_id,omitempty"`
	UserType         string                 `json:"user_type,omitempty"`
	Location         *domain.LocationSample `json:"location,omitempty"`
	Status           domain.DeliveryStatus  `json:"status,omitempty"`
	ConnectionsCount int                    `json:"connections_count,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Timestamp        int64                  `json:"timestamp,omitempty"`
}
