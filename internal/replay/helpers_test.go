package replay_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	. "github.com/onsi/gomega"

	"procodus.dev/energy-replay/internal/predict"
	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/internal/store"
)

var errModelDown = errors.New("model down")

// fakePredictor returns actual*scale for every call, or err when set.
type fakePredictor struct {
	err      error
	delay    time.Duration
	features []predict.Features
	value    float64
	mu       sync.Mutex
}

func (p *fakePredictor) Predict(ctx context.Context, features predict.Features) (predict.Result, error) {
	p.mu.Lock()
	p.features = append(p.features, features)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return predict.Result{}, ctx.Err()
		}
	}
	if p.err != nil {
		return predict.Result{}, p.err
	}
	return predict.Result{PredictedKwh: p.value, ModelVersion: "test-v1"}, nil
}

func (p *fakePredictor) calls() []predict.Features {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]predict.Features(nil), p.features...)
}

// recordingBroadcaster keeps every tick result it is asked to deliver.
type recordingBroadcaster struct {
	results []replay.TickResult
	events  []string
	mu      sync.Mutex
}

func (b *recordingBroadcaster) Broadcast(_ int, event string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if result, ok := payload.(replay.TickResult); ok {
		b.results = append(b.results, result)
	}
	return 1
}

func (b *recordingBroadcaster) Results() []replay.TickResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]replay.TickResult(nil), b.results...)
}

func (b *recordingBroadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}

func openTestStore(logger *slog.Logger) *store.Store {
	s, err := store.Open(&store.Config{
		Logger: logger,
		Driver: store.DriverSQLite,
		Path:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	Expect(err).NotTo(HaveOccurred())
	return s
}

func seed(ctx context.Context, s *store.Store, buildingID int, start time.Time, values ...float64) {
	samples := make([]store.HistoricalSample, len(values))
	for i, v := range values {
		samples[i] = store.HistoricalSample{
			BuildingID:    buildingID,
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			PowerKwh:      v,
			Temperature:   null.FloatFrom(18.5),
			Humidity:      null.FloatFrom(60),
			WindSpeed:     null.FloatFrom(3.2),
			Precipitation: null.FloatFrom(0),
		}
	}
	_, err := s.InsertSamples(ctx, samples)
	Expect(err).NotTo(HaveOccurred())
}
