// Command riderrelay is the rider-side tracking daemon: it resolves a
// delivery over REST, verifies the pickup OTP when one is supplied, then
// relays simulated GPS fixes to the backend while mirroring them over the
// delivery's WebSocket channel.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/eta"
	"github.com/example/courierlive/pkg/observability"
	"github.com/example/courierlive/pkg/relay"
	"github.com/example/courierlive/pkg/relay/rest"
	"github.com/example/courierlive/pkg/wsclient"
)

// arriveRadiusMeters is how close the rider must be to the drop-off before the
// relay auto-confirms completion.
const arriveRadiusMeters = 25

type relayConfig struct {
	BackendURL   string
	WSBaseURL    string
	TrackingID   string
	OTP          string
	UserType     string
	BatterySaver bool
	OriginLat    float64
	OriginLng    float64
	SpeedKMH     float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("riderrelay")
	defer logger.Sync() //nolint:errcheck

	cfg := loadConfig()
	if cfg.TrackingID == "" {
		logger.Fatal("TRACKING_ID is required")
	}

	client := rest.NewClient(cfg.BackendURL, logger.Named("rest"))

	delivery, err := client.GetDelivery(ctx, cfg.TrackingID)
	if err != nil {
		logger.Fatal("resolve delivery", zap.Error(err))
	}
	logger.Info("delivery resolved",
		zap.String("tracking_id", delivery.TrackingID),
		zap.String("status", string(delivery.Status)))

	if delivery.Status == domain.StatusAssigned {
		if cfg.OTP == "" {
			logger.Fatal("delivery awaits pickup, set OTP to verify")
		}
		delivery, err = client.VerifyOTP(ctx, cfg.TrackingID, cfg.OTP)
		if err != nil {
			logger.Fatal("verify otp", zap.Error(err))
		}
		logger.Info("pickup verified", zap.String("status", string(delivery.Status)))
	}

	source := relay.NewSimulatedSource(
		domain.GeoPoint{Lat: cfg.OriginLat, Lng: cfg.OriginLng},
		delivery.Customer.Address,
		cfg.SpeedKMH, 0)

	tracker := relay.NewTracker(delivery, client, source, relay.TrackerConfig{
		BatterySaver: cfg.BatterySaver,
		UserType:     cfg.UserType,
	}, logger.Named("tracker"))

	wsURL := strings.TrimSuffix(cfg.WSBaseURL, "/") +
		"/api/v1/ws/delivery/" + cfg.TrackingID + "?user_type=" + cfg.UserType
	channel := wsclient.NewManager(wsclient.Config{URL: wsURL}, wsclient.Callbacks{
		OnConnect:    tracker.OnChannelConnect,
		OnDisconnect: tracker.OnChannelDown,
		OnError:      tracker.OnChannelError,
		OnMessage:    tracker.OnChannelMessage,
	}, logger.Named("channel"))
	tracker.AttachChannel(channel)

	if err := tracker.Start(ctx); err != nil {
		if errors.Is(err, relay.ErrNotTrackable) {
			logger.Fatal("delivery not trackable", zap.String("status", string(delivery.Status)))
		}
		logger.Fatal("start tracking", zap.Error(err))
	}
	defer tracker.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			snap := tracker.Snapshot()
			fields := []zap.Field{
				zap.String("channel", string(snap.ChannelStatus)),
				zap.Int("watchers", snap.Watchers),
			}
			if snap.Estimate != nil {
				fields = append(fields,
					zap.Float64("distance_m", snap.Estimate.DistanceMeters),
					zap.Duration("eta", snap.Estimate.Duration))
			}
			if snap.Notice != "" {
				fields = append(fields, zap.String("notice", snap.Notice))
			}
			logger.Info("tracking", fields...)

			if snap.LastSample == nil {
				continue
			}
			remaining := eta.Haversine(snap.LastSample.Point(), delivery.Customer.Address)
			if remaining > arriveRadiusMeters {
				continue
			}
			tracker.ArmComplete()
			if err := tracker.ConfirmComplete(ctx); err != nil {
				logger.Error("complete delivery", zap.Error(err))
				continue
			}
			logger.Info("delivery completed", zap.String("tracking_id", cfg.TrackingID))
			return
		}
	}
}

func loadConfig() relayConfig {
	return relayConfig{
		BackendURL:   getenv("BACKEND_URL", "http://localhost:8080"),
		WSBaseURL:    getenv("WS_URL", "ws://localhost:8080"),
		TrackingID:   os.Getenv("TRACKING_ID"),
		OTP:          os.Getenv("OTP"),
		UserType:     getenv("USER_TYPE", "rider"),
		BatterySaver: parseBoolEnv("BATTERY_SAVER", false),
		OriginLat:    parseFloatEnv("ORIGIN_LAT", 40.4093),
		OriginLng:    parseFloatEnv("ORIGIN_LNG", 49.8671),
		SpeedKMH:     parseFloatEnv("SPEED_KMH", 25),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
