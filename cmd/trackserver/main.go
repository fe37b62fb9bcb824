package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/courierlive/internal/auth"
	"github.com/example/courierlive/internal/delivery/domain"
	"github.com/example/courierlive/internal/delivery/handler"
	"github.com/example/courierlive/internal/delivery/repository"
	deliverysvc "github.com/example/courierlive/internal/delivery/service"
	ratelimitmw "github.com/example/courierlive/internal/http/middleware"
	"github.com/example/courierlive/internal/ingest"
	"github.com/example/courierlive/internal/ws"
	"github.com/example/courierlive/pkg/events"
	"github.com/example/courierlive/pkg/observability"
)

type appConfig struct {
	HTTPAddr  string
	GRPCAddr  string
	RedisAddr string
	NATSURL   string
	JWTSecret string
	TrailTTL  time.Duration
	APIRate   float64
	APIBurst  float64
	LocRate   float64
	LocBurst  float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("trackserver")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "trackserver")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("trackserver")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	hub := ws.NewHub(logger.Named("hub"))
	go hub.Run(ctx)

	var history domain.HistoryStore
	if redisClient != nil {
		history = repository.NewRedisHistoryStore(redisClient, "", cfg.TrailTTL)
	}

	repo := repository.NewMemoryRepository()
	publisher := fanPublisher{
		nats: events.NewPublisher(natsConn, "delivery.events"),
		hub:  hub,
	}
	svc := deliverysvc.New(repo, history, publisher, domain.SystemClock{})

	var vendorAuth func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		vendorAuth = auth.Middleware(cfg.JWTSecret, auth.RoleVendor)
	}
	deliveryHTTP := handler.NewHTTP(svc, vendorAuth)

	observer := ingest.NewSnapshotObserver()
	wsHandler := ws.NewHandler(hub, logger.Named("ws"))

	limiter := ratelimitmw.NewRateLimiter(redisClient,
		ratelimitmw.RateConfig{Rate: cfg.APIRate, Burst: cfg.APIBurst},
		ratelimitmw.RateConfig{Rate: cfg.LocRate, Burst: cfg.LocBurst})

	r := chi.NewRouter()
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Mount("/api", wsHandler.Router())
	r.Mount("/fleet", ingest.NewHTTP(observer).Router())
	var readiness []func() error
	if redisClient != nil {
		readiness = append(readiness, func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return redisClient.Ping(pingCtx).Err()
		})
	}
	r.Mount("/observability", observability.MetricsRouter(readiness...))
	r.Mount("/", deliveryHTTP.Router())

	grpcServer := grpc.NewServer()
	ingest.RegisterPositionServer(grpcServer, ingest.NewServer(observer))
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		logger.Info("ingest stream listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("trackserver listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// fanPublisher feeds delivery events to NATS and mirrors the live-relevant
// ones onto the WebSocket hub so customers watching over REST-sourced state
// still get real-time frames.
type fanPublisher struct {
	nats *events.Publisher
	hub  *ws.Hub
}

func (p fanPublisher) Publish(ctx context.Context, event domain.DeliveryEvent) error {
	switch event.Type {
	case domain.EventLocationUpdated:
		lat, _ := event.Payload["lat"].(float64)
		lng, _ := event.Payload["lng"].(float64)
		p.hub.Broadcast(event.TrackingID, ws.Message{
			Type:       ws.TypeLocationUpdate,
			TrackingID: event.TrackingID,
			Location:   &domain.LocationSample{Latitude: lat, Longitude: lng, Timestamp: event.CreatedAt},
			Timestamp:  event.CreatedAt.UnixMilli(),
		})
	case domain.EventTrackingStarted:
		p.hub.Broadcast(event.TrackingID, ws.Message{
			Type: ws.TypeStatusUpdate, TrackingID: event.TrackingID, Status: domain.StatusInProgress,
		})
	case domain.EventDeliveryComplete:
		p.hub.Broadcast(event.TrackingID, ws.Message{
			Type: ws.TypeStatusUpdate, TrackingID: event.TrackingID, Status: domain.StatusCompleted,
		})
	case domain.EventDeliveryCancel:
		p.hub.Broadcast(event.TrackingID, ws.Message{
			Type: ws.TypeStatusUpdate, TrackingID: event.TrackingID, Status: domain.StatusCancelled,
		})
	}
	return p.nats.Publish(ctx, event)
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:  getenv("GRPC_ADDR", ":9090"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		NATSURL:   os.Getenv("NATS_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		TrailTTL:  time.Duration(parseIntEnv("TRAIL_TTL_HOURS", 24)) * time.Hour,
		APIRate:   parseFloatEnv("RATE_API_RPS", 50),
		APIBurst:  parseFloatEnv("RATE_API_BURST", 100),
		LocRate:   parseFloatEnv("RATE_LOCATION_RPS", 5),
		LocBurst:  parseFloatEnv("RATE_LOCATION_BURST", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
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
