package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// session is one subscriber connection bound to a delivery channel.
type session struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	trackingID string
	userType   string
	logger     *zap.Logger
}

// readPump relays inbound frames into the hub until the peer goes away.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister <- s
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.reply(Message{Type: TypeError, Message: "malformed frame"})
			continue
		}
		s.handle(msg, raw)
	}
}

func (s *session) handle(msg Message, raw []byte) {
	hubFramesTotal.WithLabelValues(string(msg.Type)).Inc()
	switch msg.Type {
	case TypePing:
		s.reply(Message{Type: TypePong, Timestamp: time.Now().UnixMilli()})
	case TypeJoinTracking:
		if msg.UserType != "" {
			s.userType = msg.UserType
		}
	case TypeLeaveTracking:
		// The peer is about to close; the read error path unregisters.
	case TypeLocationUpdate, TypeStatusUpdate:
		s.hub.frames <- frame{trackingID: s.trackingID, payload: raw, sender: s}
	default:
		s.reply(Message{Type: TypeError, Message: "unknown message type"})
	}
}

func (s *session) reply(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	default:
		hubDroppedTotal.Inc()
	}
}

// writePump drains the send buffer and keeps the connection alive with
// protocol-level pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
