package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/guregu/null/v6"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/datatypes"

	"procodus.dev/energy-replay/internal/peak"
	"procodus.dev/energy-replay/internal/predict"
	"procodus.dev/energy-replay/internal/store"
	"procodus.dev/energy-replay/pkg/logger"
	"procodus.dev/energy-replay/pkg/metrics"
)

// Store is the persistence the engine and manager depend on.
type Store interface {
	FirstSample(ctx context.Context, buildingID int) (*store.HistoricalSample, error)
	NextSample(ctx context.Context, buildingID int, from time.Time) (*store.HistoricalSample, error)
	LagsAt(ctx context.Context, buildingID int, ts time.Time) (store.Lags, error)
	Threshold(ctx context.Context, buildingID int) (*store.PeakThreshold, error)
	EnsureThreshold(ctx context.Context, buildingID int) (*store.PeakThreshold, error)
	SavePrediction(ctx context.Context, entry *store.PredictionLog) error
}

// Broadcaster fans a payload out to a building's subscribers.
type Broadcaster interface {
	Broadcast(buildingID int, event string, payload any) int
}

// Exporter forwards tick results to an external sink.
type Exporter interface {
	Export(ctx context.Context, result TickResult) error
}

// EngineConfig holds the configuration for Engine.
type EngineConfig struct {
	Logger         *slog.Logger
	Store          Store
	Predictor      predict.Predictor
	Broadcaster    Broadcaster
	Exporter       Exporter               // optional
	Metrics        *metrics.ReplayMetrics // optional
	Location       *time.Location
	Faker          *gofakeit.Faker
	PredictTimeout time.Duration
	FallbackLow    float64
	FallbackHigh   float64
	LogPredictions bool
}

// Engine owns the per-building replay pointers and executes ticks.
type Engine struct {
	logger         *slog.Logger
	store          Store
	predictor      predict.Predictor
	broadcaster    Broadcaster
	exporter       Exporter
	metrics        *metrics.ReplayMetrics
	location       *time.Location
	faker          *gofakeit.Faker
	pointers       map[int]time.Time
	locks          map[int]*sync.Mutex
	predictTimeout time.Duration
	fallbackLow    float64
	fallbackHigh   float64
	mu             sync.Mutex
	fakerMu        sync.Mutex
	logPredictions bool
}

// NewEngine creates a new Engine instance.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Predictor == nil {
		return nil, errors.New("predictor cannot be nil")
	}

	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	low, high := cfg.FallbackLow, cfg.FallbackHigh
	if low == 0 && high == 0 {
		low, high = 0.97, 1.03
	}
	if low <= 0 || high < low {
		return nil, fmt.Errorf("invalid fallback band [%g, %g]", low, high)
	}

	timeout := cfg.PredictTimeout
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	faker := cfg.Faker
	if faker == nil {
		faker = gofakeit.New(0)
	}

	return &Engine{
		logger:         cfg.Logger,
		store:          cfg.Store,
		predictor:      cfg.Predictor,
		broadcaster:    cfg.Broadcaster,
		exporter:       cfg.Exporter,
		metrics:        cfg.Metrics,
		location:       loc,
		faker:          faker,
		pointers:       make(map[int]time.Time),
		locks:          make(map[int]*sync.Mutex),
		predictTimeout: timeout,
		fallbackLow:    low,
		fallbackHigh:   high,
		logPredictions: cfg.LogPredictions,
	}, nil
}

// Pointer returns the current replay position of a building.
func (e *Engine) Pointer(buildingID int) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.pointers[buildingID]
	return ts, ok
}

// Reset moves the pointer of a building to ts, or to the start of its series
// when ts is zero. It waits for any in-flight tick of that building.
func (e *Engine) Reset(ctx context.Context, buildingID int, ts time.Time) (time.Time, error) {
	lock := e.buildingLock(buildingID)
	lock.Lock()
	defer lock.Unlock()

	if ts.IsZero() {
		first, err := e.store.FirstSample(ctx, buildingID)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to reset building %d: %w", buildingID, err)
		}
		ts = first.Timestamp
	}

	e.mu.Lock()
	e.pointers[buildingID] = ts
	e.mu.Unlock()

	e.logger.Info("replay pointer reset", "building_id", buildingID, "pointer", ts)
	return ts, nil
}

// Tick replays the next hour of a building. It returns nil without error when
// there is nothing to replay. Ticks of the same building never overlap.
func (e *Engine) Tick(ctx context.Context, buildingID int) (*TickResult, error) {
	lock := e.buildingLock(buildingID)
	lock.Lock()
	defer lock.Unlock()

	var timer *prometheus.Timer
	if e.metrics != nil {
		timer = prometheus.NewTimer(e.metrics.TickDuration)
		defer timer.ObserveDuration()
	}

	result, err := e.tick(ctx, buildingID)
	switch {
	case err != nil:
		e.countTick("error")
	case result == nil:
		e.countTick("idle")
	default:
		e.countTick("emitted")
	}

	return result, err
}

func (e *Engine) tick(ctx context.Context, buildingID int) (*TickResult, error) {
	log := logger.ForBuilding(e.logger, buildingID)

	pointer, ok := e.Pointer(buildingID)
	if !ok {
		first, err := e.store.FirstSample(ctx, buildingID)
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("no history to replay")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pointer: %w", err)
		}
		pointer = first.Timestamp
		e.setPointer(buildingID, pointer)
	}

	sample, err := e.store.NextSample(ctx, buildingID, pointer)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("replay series exhausted", "pointer", pointer)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}

	threshold, err := e.store.Threshold(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold: %w", err)
	}

	lags, err := e.store.LagsAt(ctx, buildingID, sample.Timestamp)
	if err != nil {
		return nil, err
	}

	features := buildFeatures(sample, lags, e.location)
	prediction, fallback := e.predict(ctx, log, features, sample.PowerKwh)

	var thresholdValue, mu, sigma null.Float
	if threshold != nil {
		thresholdValue = null.FloatFrom(threshold.ThresholdValue)
		mu, sigma = threshold.Mu, threshold.Sigma
	}
	class := peak.Classify(prediction.PredictedKwh, thresholdValue, mu, sigma)

	result := TickResult{
		Timestamp:       sample.Timestamp,
		BuildingID:      buildingID,
		ActualKwh:       sample.PowerKwh,
		PredictedKwh:    null.FloatFrom(prediction.PredictedKwh),
		ThresholdValue:  thresholdValue,
		IsPeak:          class.IsPeak,
		PeakProbability: class.PeakProbability,
		Risk:            class.Risk,
		ModelVersion:    prediction.ModelVersion,
		Fallback:        fallback,
	}

	e.setPointer(buildingID, sample.Timestamp.Add(time.Hour))

	delivered := e.broadcaster.Broadcast(buildingID, EventTick, result)
	log.Debug("tick emitted",
		"timestamp", result.Timestamp,
		"predicted_kwh", prediction.PredictedKwh,
		"fallback", fallback,
		"subscribers", delivered,
	)

	e.export(ctx, log, result)
	e.logPrediction(ctx, log, result, features)

	return &result, nil
}

// predict calls the model under the configured timeout, substituting a
// near-actual value when the call fails.
func (e *Engine) predict(ctx context.Context, log *slog.Logger, features predict.Features, actual float64) (predict.Result, bool) {
	predictCtx, cancel := context.WithTimeout(ctx, e.predictTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.predictor.Predict(predictCtx, features)
	if err == nil {
		e.observePrediction("ok", start)
		return result, false
	}

	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	e.observePrediction(reason, start)
	if e.metrics != nil {
		e.metrics.FallbackTotal.WithLabelValues(reason).Inc()
	}

	e.fakerMu.Lock()
	factor := e.faker.Float64Range(e.fallbackLow, e.fallbackHigh)
	e.fakerMu.Unlock()

	log.Warn("model unavailable, using fallback prediction", "reason", reason, "error", err)
	return predict.Result{
		PredictedKwh: actual * factor,
		ModelVersion: FallbackModelVersion,
	}, true
}

func (e *Engine) export(ctx context.Context, log *slog.Logger, result TickResult) {
	if e.exporter == nil {
		return
	}
	if err := e.exporter.Export(ctx, result); err != nil {
		log.Warn("failed to export tick", "error", err)
	}
}

func (e *Engine) logPrediction(ctx context.Context, log *slog.Logger, result TickResult, features predict.Features) {
	if !e.logPredictions {
		return
	}

	payload, err := json.Marshal(features)
	if err != nil {
		log.Warn("failed to encode features", "error", err)
		return
	}

	entry := &store.PredictionLog{
		BuildingID:   result.BuildingID,
		Timestamp:    result.Timestamp,
		PredictedKwh: result.PredictedKwh.Float64,
		ModelVersion: result.ModelVersion,
		Features:     datatypes.JSON(payload),
		Fallback:     result.Fallback,
	}
	if err := e.store.SavePrediction(ctx, entry); err != nil {
		log.Warn("failed to record prediction", "error", err)
	}
}

func (e *Engine) buildingLock(buildingID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[buildingID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[buildingID] = lock
	}
	return lock
}

func (e *Engine) setPointer(buildingID int, ts time.Time) {
	e.mu.Lock()
	e.pointers[buildingID] = ts
	e.mu.Unlock()
}

func (e *Engine) countTick(outcome string) {
	if e.metrics != nil {
		e.metrics.TicksTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) observePrediction(status string, start time.Time) {
	if e.metrics != nil {
		e.metrics.PredictionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
