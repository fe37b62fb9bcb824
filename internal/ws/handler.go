package ws

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard and tracking pages are served from other origins in dev.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades HTTP requests into hub sessions.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler constructs the upgrade handler.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger}
}

// Router exposes the delivery channel endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/ws/delivery/{trackingID}", h.serve)
	return r
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	if trackingID == "" {
		http.Error(w, "missing tracking id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	s := &session{
		hub:        h.hub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		trackingID: trackingID,
		userType:   r.URL.Query().Get("user_type"),
		logger:     h.logger.With(zap.String("tracking_id", trackingID)),
	}
	h.hub.register <- s
	go s.writePump()
	go s.readPump()
}
