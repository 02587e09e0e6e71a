package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/energy-replay/pkg/logger"
	"procodus.dev/energy-replay/pkg/metrics"
)

// ErrInvalidInterval is returned when a replay is started with a
// non-positive interval.
var ErrInvalidInterval = errors.New("replay interval must be positive")

// ErrManagerClosed is returned by Start after Close.
var ErrManagerClosed = errors.New("replay manager closed")

// ManagerConfig holds the configuration for Manager.
type ManagerConfig struct {
	Logger  *slog.Logger
	Engine  *Engine
	Store   Store
	Metrics *metrics.ReplayMetrics // optional
}

// Status describes the replay state of one building.
type Status struct {
	Pointer    *time.Time `json:"pointer"`
	Interval   float64    `json:"interval"`
	BuildingID int        `json:"buildingId"`
	Running    bool       `json:"running"`
}

type run struct {
	cancel   context.CancelFunc
	interval time.Duration
}

// Manager starts and stops the recurring replay of each building.
type Manager struct {
	logger  *slog.Logger
	engine  *Engine
	store   Store
	metrics *metrics.ReplayMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	runs    map[int]*run
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewManager creates a new Manager instance.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("manager config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:  logger.ForComponent(cfg.Logger, "replay"),
		engine:  cfg.Engine,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		runs:    make(map[int]*run),
	}, nil
}

// Start ensures the building has a threshold and then ticks it every
// interval. A running replay of the same building is replaced.
func (m *Manager) Start(ctx context.Context, buildingID int, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	if m.isClosed() {
		return ErrManagerClosed
	}

	if _, err := m.store.EnsureThreshold(ctx, buildingID); err != nil {
		return fmt.Errorf("failed to ensure threshold for building %d: %w", buildingID, err)
	}

	loopCtx, cancel := context.WithCancel(m.ctx)
	r := &run{
		cancel:   cancel,
		interval: interval,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrManagerClosed
	}
	if prev, ok := m.runs[buildingID]; ok {
		prev.cancel()
	}
	m.runs[buildingID] = r
	m.wg.Add(1)
	m.setActive()
	m.mu.Unlock()

	go m.loop(loopCtx, buildingID, r)

	m.logger.Info("replay started", "building_id", buildingID, "interval", interval)
	return nil
}

// Stop cancels the replay of a building. It reports whether a replay was
// running. The pointer is kept.
func (m *Manager) Stop(buildingID int) bool {
	m.mu.Lock()
	r, ok := m.runs[buildingID]
	if ok {
		r.cancel()
		delete(m.runs, buildingID)
		m.setActive()
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("replay stopped", "building_id", buildingID)
	}
	return ok
}

// TickOnce runs a single tick outside the schedule.
func (m *Manager) TickOnce(ctx context.Context, buildingID int) (*TickResult, error) {
	return m.engine.Tick(ctx, buildingID)
}

// Reset moves the pointer of a building; see Engine.Reset.
func (m *Manager) Reset(ctx context.Context, buildingID int, ts time.Time) (time.Time, error) {
	return m.engine.Reset(ctx, buildingID, ts)
}

// Status returns the replay state of a building.
func (m *Manager) Status(buildingID int) Status {
	status := Status{BuildingID: buildingID}

	m.mu.Lock()
	if r, ok := m.runs[buildingID]; ok {
		status.Running = true
		status.Interval = r.interval.Seconds()
	}
	m.mu.Unlock()

	if ts, ok := m.engine.Pointer(buildingID); ok {
		status.Pointer = &ts
	}

	return status
}

// Close stops every replay and waits for in-flight ticks to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cancel()
	clear(m.runs)
	m.setActive()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context, buildingID int, r *run) {
	defer m.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// An in-flight tick completes even if the replay is stopped meanwhile.
	tickCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := m.engine.Tick(tickCtx, buildingID); err != nil {
				m.logger.Error("replay tick failed", "building_id", buildingID, "error", err)
			}
		}
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// setActive must be called with m.mu held.
func (m *Manager) setActive() {
	if m.metrics != nil {
		m.metrics.ActiveReplays.Set(float64(len(m.runs)))
	}
}
