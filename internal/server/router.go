package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/internal/stream"
	"procodus.dev/energy-replay/pkg/metrics"
)

// ReplayController is the replay control surface used by the HTTP API.
type ReplayController interface {
	Start(ctx context.Context, buildingID int, interval time.Duration) error
	Stop(buildingID int) bool
	TickOnce(ctx context.Context, buildingID int) (*replay.TickResult, error)
	Reset(ctx context.Context, buildingID int, ts time.Time) (time.Time, error)
	Status(buildingID int) replay.Status
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds the configuration for NewRouter.
type RouterConfig struct {
	Logger  *slog.Logger
	Replay  ReplayController
	Stream  *stream.SSEHandler
	Health  HealthChecker        // optional
	Metrics *metrics.HTTPMetrics // optional

	Location        *time.Location
	DefaultBuilding int
	DefaultSpeed    time.Duration
}

type api struct {
	logger          *slog.Logger
	replay          ReplayController
	stream          *stream.SSEHandler
	health          HealthChecker
	location        *time.Location
	defaultBuilding int
	defaultSpeed    time.Duration
}

// NewRouter builds the HTTP handler for the replay API.
func NewRouter(cfg *RouterConfig) (http.Handler, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Replay == nil {
		return nil, errors.New("replay controller cannot be nil")
	}

	if cfg.Stream == nil {
		return nil, errors.New("stream handler cannot be nil")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	a := &api{
		logger:          cfg.Logger,
		replay:          cfg.Replay,
		stream:          cfg.Stream,
		health:          cfg.Health,
		location:        loc,
		defaultBuilding: cfg.DefaultBuilding,
		defaultSpeed:    cfg.DefaultSpeed,
	}
	if a.defaultBuilding <= 0 {
		a.defaultBuilding = 74
	}
	if a.defaultSpeed <= 0 {
		a.defaultSpeed = 5 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(instrument(cfg.Metrics))
	}

	r.Get("/", a.handleIndex)
	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/replay", func(r chi.Router) {
		r.Post("/start", a.handleStart)
		r.Post("/stop", a.handleStop)
		r.Post("/reset", a.handleReset)
		r.Get("/status", a.handleStatus)
		r.Post("/{buildingId}/tick", a.handleTick)
	})

	r.Get("/stream/consumption", a.handleStream)

	return r, nil
}
