package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const thresholdTable = "peak_threshold"

// thresholdTimeout bounds one threshold computation.
const thresholdTimeout = time.Minute

// Threshold returns the stored threshold for the building, or nil when none
// has been computed yet.
func (s *Store) Threshold(ctx context.Context, buildingID int) (*PeakThreshold, error) {
	start := time.Now()

	var threshold PeakThreshold
	err := s.db.WithContext(ctx).
		Where("building_id = ?", buildingID).
		Take(&threshold).Error
	s.observe("select", thresholdTable, start, err)

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold: %w", err)
	}

	return &threshold, nil
}

// EnsureThreshold recomputes the building's threshold from its full history
// and upserts it. When the building has no history the stored row is left
// untouched and nil is returned. Concurrent calls for the same building share
// one computation.
func (s *Store) EnsureThreshold(ctx context.Context, buildingID int) (*PeakThreshold, error) {
	v, err, _ := s.thresholds.Do(strconv.Itoa(buildingID), func() (any, error) {
		// Shared by every waiting caller, so one caller going away must not
		// fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), thresholdTimeout)
		defer cancel()
		return s.ensureThreshold(ctx, buildingID)
	})
	if err != nil {
		return nil, err
	}

	threshold, _ := v.(*PeakThreshold)
	return threshold, nil
}

func (s *Store) ensureThreshold(ctx context.Context, buildingID int) (*PeakThreshold, error) {
	values, err := s.PowerSeries(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		s.logger.Warn("no history for building, threshold not written", "building_id", buildingID)
		return nil, nil
	}

	threshold := ComputeThreshold(buildingID, s.thresholdType, values)
	threshold.UpdatedAt = time.Now().UTC()

	start := time.Now()
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "building_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"threshold_type",
				"threshold_value",
				"mu",
				"sigma",
				"updated_at",
			}),
		}).
		Create(threshold).Error
	s.observe("upsert", thresholdTable, start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert threshold: %w", err)
	}

	s.logger.Info("peak threshold updated",
		"building_id", buildingID,
		"type", threshold.ThresholdType,
		"value", threshold.ThresholdValue,
		"samples", len(values),
	)

	return threshold, nil
}

// ComputeThreshold derives a threshold from a non-empty power series. Sigma is
// the sample standard deviation and is zero for a single value.
func ComputeThreshold(buildingID int, thresholdType ThresholdType, values []float64) *PeakThreshold {
	mu := stat.Mean(values, nil)

	sigma := 0.0
	if len(values) > 1 {
		sigma = stat.StdDev(values, nil)
	}

	value := mu + 2*sigma
	if thresholdType == ThresholdP95 {
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		value = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	} else {
		thresholdType = ThresholdMuPlus2Sigma
	}

	return &PeakThreshold{
		BuildingID:     buildingID,
		ThresholdType:  thresholdType,
		ThresholdValue: value,
		Mu:             null.FloatFrom(mu),
		Sigma:          null.FloatFrom(sigma),
	}
}
