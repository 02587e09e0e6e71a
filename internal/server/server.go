// Package server exposes the replay pipeline over HTTP and gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"procodus.dev/energy-replay/internal/export"
	"procodus.dev/energy-replay/internal/predict"
	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/internal/store"
	"procodus.dev/energy-replay/internal/stream"
	"procodus.dev/energy-replay/pkg/metrics"
)

// Model service kinds.
const (
	ModelHTTP      = "http"
	ModelSageMaker = "sagemaker"
)

// healthService is the name reported by the gRPC health service.
const healthService = "energy-replay"

// ModelConfig selects and configures the prediction client.
type ModelConfig struct {
	Kind              string
	URL               string
	SageMakerEndpoint string
	SageMakerRegion   string
	Timeout           time.Duration
}

// ReplayConfig holds the tick engine settings.
type ReplayConfig struct {
	Location           *time.Location
	DefaultBuilding    int
	DefaultSpeed       time.Duration
	FallbackLow        float64
	FallbackHigh       float64
	PersistPredictions bool
}

// StreamConfig holds the live stream settings.
type StreamConfig struct {
	KeepAlive time.Duration
	Buffer    int
}

// Metrics groups the optional collectors used by the server.
type Metrics struct {
	Replay *metrics.ReplayMetrics
	Store  *metrics.StoreMetrics
	HTTP   *metrics.HTTPMetrics
	MQ     *metrics.MQMetrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger  *slog.Logger
	Metrics Metrics

	Store  store.Config
	Model  ModelConfig
	Replay ReplayConfig
	Stream StreamConfig
	Export export.Config

	HTTPPort int
	GRPCPort int
}

// Server runs the replay HTTP API and the gRPC health endpoint.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	store      *store.Store
	manager    *replay.Manager
	exporter   export.Exporter
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	switch cfg.Model.Kind {
	case ModelHTTP, "":
		if cfg.Model.URL == "" {
			return nil, errors.New("model URL cannot be empty")
		}
	case ModelSageMaker:
		if cfg.Model.SageMakerEndpoint == "" {
			return nil, errors.New("sagemaker endpoint cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.Model.Kind)
	}

	if cfg.Replay.DefaultBuilding <= 0 {
		return nil, errors.New("default building must be positive")
	}

	if cfg.Replay.DefaultSpeed <= 0 {
		return nil, errors.New("default speed must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting replay server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.init(ctx); err != nil {
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return fmt.Errorf("%w; shutdown error: %w", err, shutdownErr)
		}
		return err
	}

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)
	grpcErr := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			grpcErr <- fmt.Errorf("gRPC server error: %w", err)
		}
		close(grpcErr)
	}()

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.health.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info("replay server started successfully")

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-grpcErr:
		runErr = err
	case err := <-httpErr:
		runErr = err
	}

	if runErr != nil {
		s.logger.Error("server error", "error", runErr)
	}

	if err := s.Shutdown(); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w; shutdown error: %w", runErr, err)
		}
		return err
	}
	return runErr
}

// init opens the store and wires the pipeline, HTTP and gRPC servers.
func (s *Server) init(ctx context.Context) error {
	storeCfg := s.config.Store
	storeCfg.Logger = s.logger
	storeCfg.Metrics = s.config.Metrics.Store

	db, err := store.Open(&storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.store = db

	predictor, err := s.newPredictor(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize predictor: %w", err)
	}

	exportCfg := s.config.Export
	exportCfg.Logger = s.logger
	exportCfg.Metrics = s.config.Metrics.Replay
	exportCfg.MQMetrics = s.config.Metrics.MQ
	exporter, err := export.New(&exportCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}
	s.exporter = exporter

	registry := stream.NewRegistry(s.logger, s.config.Metrics.Replay)

	engineCfg := &replay.EngineConfig{
		Logger:         s.logger,
		Store:          db,
		Predictor:      predictor,
		Broadcaster:    registry,
		Metrics:        s.config.Metrics.Replay,
		Location:       s.config.Replay.Location,
		PredictTimeout: s.config.Model.Timeout,
		FallbackLow:    s.config.Replay.FallbackLow,
		FallbackHigh:   s.config.Replay.FallbackHigh,
		LogPredictions: s.config.Replay.PersistPredictions,
	}
	if exporter != nil {
		engineCfg.Exporter = exporter
	}
	engine, err := replay.NewEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize replay engine: %w", err)
	}

	manager, err := replay.NewManager(&replay.ManagerConfig{
		Logger:  s.logger,
		Engine:  engine,
		Store:   db,
		Metrics: s.config.Metrics.Replay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize replay manager: %w", err)
	}
	s.manager = manager

	sse, err := stream.NewSSEHandler(&stream.SSEConfig{
		Logger:    s.logger,
		Registry:  registry,
		KeepAlive: s.config.Stream.KeepAlive,
		Buffer:    s.config.Stream.Buffer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize stream handler: %w", err)
	}

	router, err := NewRouter(&RouterConfig{
		Logger:          s.logger,
		Replay:          manager,
		Stream:          sse,
		Health:          db,
		Metrics:         s.config.Metrics.HTTP,
		Location:        s.config.Replay.Location,
		DefaultBuilding: s.config.Replay.DefaultBuilding,
		DefaultSpeed:    s.config.Replay.DefaultSpeed,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.health = health.NewServer()
	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.health.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return nil
}

func (s *Server) newPredictor(ctx context.Context) (predict.Predictor, error) {
	model := s.config.Model
	if model.Kind == ModelSageMaker {
		return predict.NewSageMakerClient(ctx, &predict.SageMakerConfig{
			Logger:   s.logger,
			Endpoint: model.SageMakerEndpoint,
			Region:   model.SageMakerRegion,
		})
	}
	return predict.NewHTTPClient(&predict.HTTPConfig{
		Logger:  s.logger,
		URL:     model.URL,
		Timeout: model.Timeout,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down replay server")

	var shutdownErr error
	appendErr := func(what string, err error) {
		s.logger.Error("shutdown step failed", "component", what, "error", err)
		if shutdownErr != nil {
			shutdownErr = fmt.Errorf("%w; %s error: %w", shutdownErr, what, err)
		} else {
			shutdownErr = fmt.Errorf("%s error: %w", what, err)
		}
	}

	if s.health != nil {
		s.health.Shutdown()
	}

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		// Streams never finish on their own; Close drops them after the grace period.
		if err := s.httpServer.Shutdown(ctx); err != nil {
			_ = s.httpServer.Close()
			if !errors.Is(err, context.DeadlineExceeded) {
				appendErr("HTTP server shutdown", err)
			}
		}
		cancel()
		s.httpServer = nil
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
	}

	if s.manager != nil {
		s.logger.Info("stopping replays")
		s.manager.Close()
		s.manager = nil
	}

	if s.exporter != nil {
		if err := s.exporter.Close(); err != nil {
			appendErr("exporter close", err)
		}
		s.exporter = nil
	}

	if s.store != nil {
		s.logger.Info("closing database connection")
		if err := s.store.Close(); err != nil {
			appendErr("database close", err)
		}
		s.store = nil
	}

	if shutdownErr != nil {
		s.logger.Error("replay server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("replay server shutdown completed successfully")
	return nil
}
