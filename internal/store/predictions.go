package store

import (
	"context"
	"fmt"
	"time"
)

const predictionsTable = "power_prediction"

// SavePrediction appends a prediction log entry.
func (s *Store) SavePrediction(ctx context.Context, entry *PredictionLog) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(entry).Error
	s.observe("insert", predictionsTable, start, err)

	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// Predictions returns the most recent prediction log entries for a building,
// newest first.
func (s *Store) Predictions(ctx context.Context, buildingID, limit int) ([]PredictionLog, error) {
	start := time.Now()

	var entries []PredictionLog
	err := s.db.WithContext(ctx).
		Where("building_id = ?", buildingID).
		Order("ts DESC").
		Limit(limit).
		Find(&entries).Error
	s.observe("select", predictionsTable, start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	return entries, nil
}
