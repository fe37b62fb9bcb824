// Package rest is the typed client for the delivery-tracking backend.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/courierlive/internal/delivery/domain"
)

// ErrRejected wraps a response whose envelope reports success=false.
var ErrRejected = errors.New("request rejected")

// ErrNotFound indicates an unknown tracking ID.
var ErrNotFound = errors.New("delivery not found")

// Envelope is the response shape shared by all delivery endpoints.
type Envelope struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Delivery *domain.Delivery `json:"delivery,omitempty"`
}

// Client talks to the backend REST API. Retry policy deliberately stays with
// the callers (the sender owns location-update backoff), so the underlying
// client performs no retries of its own.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient, logger: logger}
}

// GetDelivery fetches the current delivery state.
func (c *Client) GetDelivery(ctx context.Context, trackingID string) (domain.Delivery, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/deliveries/%s", trackingID), nil)
}

// VerifyOTP submits the rider's passcode.
func (c *Client) VerifyOTP(ctx context.Context, trackingID, otp string) (domain.Delivery, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/deliveries/%s/verify-otp", trackingID),
		map[string]string{"otp": otp})
}

// StartTracking asks the backend to activate the live trail.
func (c *Client) StartTracking(ctx context.Context, trackingID string) (domain.Delivery, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/deliveries/%s/start", trackingID), nil)
}

// UpdateLocation pushes one location sample.
func (c *Client) UpdateLocation(ctx context.Context, trackingID string, sample domain.LocationSample) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/deliveries/%s/location", trackingID), sample)
	return err
}

// CompleteDelivery marks the delivery as delivered.
func (c *Client) CompleteDelivery(ctx context.Context, trackingID string) (domain.Delivery, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/deliveries/%s/complete", trackingID), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (domain.Delivery, error) {
	var envelope Envelope
	req := c.http.R().SetContext(ctx).SetResult(&envelope).SetError(&envelope)
	if body != nil {
		req.SetBody(body)
	}

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	default:
		resp, err = req.Post(path)
	}
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return domain.Delivery{}, fmt.Errorf("%w: %s", ErrNotFound, envelope.Message)
	}
	if resp.IsError() || !envelope.Success {
		msg := envelope.Message
		if msg == "" {
			msg = resp.Status()
		}
		return domain.Delivery{}, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if envelope.Delivery == nil {
		return domain.Delivery{}, nil
	}
	return *envelope.Delivery, nil
}
