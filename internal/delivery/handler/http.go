package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/delivery/repository"
	"github.com/example/courierlive/internal/delivery/service"
)

// HTTP exposes delivery endpoints.
type HTTP struct {
	svc        *service.Service
	vendorAuth func(http.Handler) http.Handler
}

// NewHTTP constructs a handler. vendorAuth guards vendor-only routes and may be
// nil for local runs.
func NewHTTP(svc *service.Service, vendorAuth func(http.Handler) http.Handler) *HTTP {
	return &HTTP{svc: svc, vendorAuth: vendorAuth}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if h.vendorAuth != nil {
			r.Use(h.vendorAuth)
		}
		r.Post("/v1/deliveries", h.createDelivery)
		r.Post("/v1/deliveries/{trackingID}/assign", h.assignRider)
		r.Post("/v1/deliveries/{trackingID}/cancel", h.cancelDelivery)
	})

	r.Get("/v1/deliveries/{trackingID}", h.getDelivery)
	r.Get("/v1/deliveries/{trackingID}/trail", h.getTrail)
	r.Post("/v1/deliveries/{trackingID}/verify-otp", h.verifyOTP)
	r.Post("/v1/deliveries/{trackingID}/start", h.startTracking)
	r.Post("/v1/deliveries/{trackingID}/location", h.updateLocation)
	r.Post("/v1/deliveries/{trackingID}/complete", h.completeDelivery)
	return r
}

// envelope is the response shape shared by all delivery endpoints.
type envelope struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Delivery *domain.Delivery `json:"delivery,omitempty"`
}

func (h *HTTP) createDelivery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Customer domain.Party   `json:"customer"`
		Package  domain.Package `json:"package"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
		return
	}
	delivery, err := h.svc.CreateDelivery(r.Context(), service.CreateDeliveryRequest{
		Customer: payload.Customer,
		Package:  payload.Package,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) getDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.svc.GetDelivery(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) getTrail(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trail, err := h.svc.Trail(r.Context(), chi.URLParam(r, "trackingID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trail": trail})
}

func (h *HTTP) assignRider(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rider domain.Party `json:"rider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
		return
	}
	delivery, err := h.svc.AssignRider(r.Context(), chi.URLParam(r, "trackingID"), payload.Rider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
		return
	}
	delivery, err := h.svc.VerifyOTP(r.Context(), chi.URLParam(r, "trackingID"), payload.OTP)
	switch {
	case errors.Is(err, domain.ErrInvalidOTP):
		writeJSON(w, http.StatusOK, envelope{Success: false, Message: "Invalid OTP"})
	case errors.Is(err, domain.ErrOTPExpired):
		writeJSON(w, http.StatusOK, envelope{Success: false, Message: "OTP expired"})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
	}
}

func (h *HTTP) startTracking(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.svc.StartTracking(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) updateLocation(w http.ResponseWriter, r *http.Request) {
	var sample domain.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
		return
	}
	delivery, err := h.svc.UpdateLocation(r.Context(), chi.URLParam(r, "trackingID"), sample)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) completeDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.svc.CompleteDelivery(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func (h *HTTP) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.svc.CancelDelivery(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Delivery: &delivery})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTrackingInactive):
		status = http.StatusConflict
	}
	writeJSON(w, status, envelope{Success: false, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
