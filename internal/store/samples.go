package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const samplesTable = "sim_replay_data"

// ErrNotFound is returned when no historical sample matches a query.
var ErrNotFound = errors.New("historical sample not found")

// Lag offsets used as predictor inputs.
const (
	Lag1   = time.Hour
	Lag24  = 24 * time.Hour
	Lag168 = 168 * time.Hour
)

// Lags holds the consumption at fixed offsets before a sample. Each value is
// invalid when no sample exists at exactly that offset.
type Lags struct {
	Lag1   null.Float
	Lag24  null.Float
	Lag168 null.Float
}

// FirstSample returns the earliest sample for the building.
func (s *Store) FirstSample(ctx context.Context, buildingID int) (*HistoricalSample, error) {
	start := time.Now()

	var sample HistoricalSample
	err := s.db.WithContext(ctx).
		Where("building_id = ?", buildingID).
		Order("ts ASC").
		Take(&sample).Error
	s.observe("select", samplesTable, start, err)

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query first sample: %w", err)
	}

	return &sample, nil
}

// NextSample returns the first sample at or after from.
func (s *Store) NextSample(ctx context.Context, buildingID int, from time.Time) (*HistoricalSample, error) {
	start := time.Now()

	var sample HistoricalSample
	err := s.db.WithContext(ctx).
		Where("building_id = ? AND ts >= ?", buildingID, from.UTC()).
		Order("ts ASC").
		Take(&sample).Error
	s.observe("select", samplesTable, start, err)

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next sample: %w", err)
	}

	return &sample, nil
}

// PowerAt returns the consumption recorded at exactly ts, or an invalid value
// when no sample exists there.
func (s *Store) PowerAt(ctx context.Context, buildingID int, ts time.Time) (null.Float, error) {
	start := time.Now()

	var samples []HistoricalSample
	err := s.db.WithContext(ctx).
		Select("power_kwh").
		Where("building_id = ? AND ts = ?", buildingID, ts.UTC()).
		Limit(1).
		Find(&samples).Error
	s.observe("select", samplesTable, start, err)

	if err != nil {
		return null.Float{}, fmt.Errorf("failed to query power at %s: %w", ts.Format(time.RFC3339), err)
	}
	if len(samples) == 0 {
		return null.Float{}, nil
	}

	return null.FloatFrom(samples[0].PowerKwh), nil
}

// LagsAt resolves the 1h, 24h and 168h lags for a sample timestamp.
func (s *Store) LagsAt(ctx context.Context, buildingID int, ts time.Time) (Lags, error) {
	var lags Lags

	g, ctx := errgroup.WithContext(ctx)
	lookup := func(dst *null.Float, offset time.Duration) {
		g.Go(func() error {
			v, err := s.PowerAt(ctx, buildingID, ts.Add(-offset))
			if err != nil {
				return err
			}
			*dst = v
			return nil
		})
	}
	lookup(&lags.Lag1, Lag1)
	lookup(&lags.Lag24, Lag24)
	lookup(&lags.Lag168, Lag168)

	if err := g.Wait(); err != nil {
		return Lags{}, fmt.Errorf("failed to resolve lags: %w", err)
	}

	return lags, nil
}

// InsertSamples stores samples, skipping any (building, ts) pair that already
// exists. It returns the number of rows inserted.
func (s *Store) InsertSamples(ctx context.Context, samples []HistoricalSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	start := time.Now()
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "building_id"}, {Name: "ts"}},
			DoNothing: true,
		}).
		CreateInBatches(samples, 500)
	s.observe("insert", samplesTable, start, result.Error)

	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert samples: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// PowerSeries returns every recorded consumption value for the building in
// chronological order.
func (s *Store) PowerSeries(ctx context.Context, buildingID int) ([]float64, error) {
	start := time.Now()

	var values []float64
	err := s.db.WithContext(ctx).
		Model(&HistoricalSample{}).
		Where("building_id = ?", buildingID).
		Order("ts ASC").
		Pluck("power_kwh", &values).Error
	s.observe("select", samplesTable, start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to load power series: %w", err)
	}

	return values, nil
}
