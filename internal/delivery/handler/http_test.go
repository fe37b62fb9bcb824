package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/delivery/handler"
	"github.com/example/courierlive/internal/delivery/repository"
	"github.com/example/courierlive/internal/delivery/service"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.DeliveryEvent) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	svc := service.New(repo, nil, nopPublisher{}, domain.SystemClock{})
	srv := httptest.NewServer(handler.NewHTTP(svc, nil).Router())
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) (bool, string, *domain.Delivery) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Success  bool             `json:"success"`
		Message  string           `json:"message"`
		Delivery *domain.Delivery `json:"delivery"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Success, envelope.Message, envelope.Delivery
}

func TestDeliveryLifecycleOverHTTP(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	resp := postJSON(t, srv.URL+"/v1/deliveries", map[string]any{
		"customer": map[string]any{"name": "Aysel", "address": map[string]float64{"lat": 40.41, "lng": 49.87}},
		"package":  map[string]any{"description": "flowers"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ok, _, created := decodeEnvelope(t, resp)
	require.True(t, ok)
	require.NotNil(t, created)
	trackingID := created.TrackingID

	resp = postJSON(t, srv.URL+"/v1/deliveries/"+trackingID+"/assign", map[string]any{
		"rider": map[string]any{"name": "Elvin"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _, _ = decodeEnvelope(t, resp)
	require.True(t, ok)

	// the OTP never leaves the server over HTTP, read it from the store
	assigned, err := svc.GetDelivery(ctx, trackingID)
	require.NoError(t, err)
	require.NotEmpty(t, assigned.Tracking.OTP)

	resp = postJSON(t, srv.URL+"/v1/deliveries/"+trackingID+"/verify-otp", map[string]string{"otp": assigned.Tracking.OTP})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _, accepted := decodeEnvelope(t, resp)
	require.True(t, ok)
	require.Equal(t, domain.StatusAccepted, accepted.Status)

	resp = postJSON(t, srv.URL+"/v1/deliveries/"+trackingID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _, inProgress := decodeEnvelope(t, resp)
	require.True(t, ok)
	require.True(t, inProgress.Tracking.Active)

	resp = postJSON(t, srv.URL+"/v1/deliveries/"+trackingID+"/location", domain.LocationSample{
		Latitude: 40.42, Longitude: 49.88, Speed: 7, Timestamp: time.Now().UTC(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeEnvelope(t, resp)

	resp = postJSON(t, srv.URL+"/v1/deliveries/"+trackingID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _, completed := decodeEnvelope(t, resp)
	require.True(t, ok)
	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.False(t, completed.Tracking.Active)
}

func TestVerifyOTPWrongCodeReturnsSuccessFalse(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	created, err := svc.CreateDelivery(ctx, service.CreateDeliveryRequest{Customer: domain.Party{Name: "N"}})
	require.NoError(t, err)
	_, err = svc.AssignRider(ctx, created.TrackingID, domain.Party{Name: "R"})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/v1/deliveries/"+created.TrackingID+"/verify-otp", map[string]string{"otp": "000000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, msg, _ := decodeEnvelope(t, resp)
	require.False(t, ok)
	require.Equal(t, "Invalid OTP", msg)
}

func TestGetUnknownDeliveryReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/deliveries/NOPE")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocationUpdateBeforeStartConflicts(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	created, err := svc.CreateDelivery(ctx, service.CreateDeliveryRequest{Customer: domain.Party{Name: "N"}})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/v1/deliveries/"+created.TrackingID+"/location", domain.LocationSample{Latitude: 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	ok, _, _ := decodeEnvelope(t, resp)
	require.False(t, ok)
}
