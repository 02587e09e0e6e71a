// Package store persists replay history, peak thresholds and prediction logs.
package store

import (
	"time"

	"github.com/guregu/null/v6"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ThresholdType names the statistic a PeakThreshold was derived with.
type ThresholdType string

const (
	// ThresholdMuPlus2Sigma is mean + 2 * sample standard deviation.
	ThresholdMuPlus2Sigma ThresholdType = "MU_PLUS_2SIGMA"
	// ThresholdP95 is the empirical 95th percentile.
	ThresholdP95 ThresholdType = "P95"
)

// ParseThresholdType converts a config string to a ThresholdType.
// Unknown values fall back to ThresholdMuPlus2Sigma.
func ParseThresholdType(s string) ThresholdType {
	switch ThresholdType(s) {
	case ThresholdP95:
		return ThresholdP95
	default:
		return ThresholdMuPlus2Sigma
	}
}

// HistoricalSample is one hour of recorded building consumption and weather.
// Rows are read-only for the replay pipeline; ascending Timestamp defines the
// simulated chronology.
type HistoricalSample struct {
	Timestamp     time.Time `gorm:"column:ts;uniqueIndex:idx_building_ts,priority:2;not null"`
	Temperature   null.Float
	Humidity      null.Float
	WindSpeed     null.Float
	Precipitation null.Float
	PowerKwh      float64 `gorm:"column:power_kwh;not null"`
	BuildingID    int     `gorm:"uniqueIndex:idx_building_ts,priority:1;not null"`
	ID            uint    `gorm:"primaryKey"`
}

// TableName specifies the table name for HistoricalSample model.
func (HistoricalSample) TableName() string {
	return "sim_replay_data"
}

// BeforeSave stores timestamps in UTC. sqlite compares times as text, so
// rows written with other offsets would not order against UTC bounds.
func (s *HistoricalSample) BeforeSave(*gorm.DB) error {
	s.Timestamp = s.Timestamp.UTC()
	return nil
}

// PeakThreshold is the per-building statistical baseline used for peak detection.
type PeakThreshold struct {
	UpdatedAt      time.Time     `gorm:"autoUpdateTime"`
	ThresholdType  ThresholdType `gorm:"type:varchar(32);not null"`
	Mu             null.Float
	Sigma          null.Float
	ThresholdValue float64 `gorm:"not null"`
	BuildingID     int     `gorm:"primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for PeakThreshold model.
func (PeakThreshold) TableName() string {
	return "peak_threshold"
}

// PredictionLog records the prediction made for one replayed hour.
type PredictionLog struct {
	Timestamp    time.Time `gorm:"column:ts;index:idx_prediction_building_ts;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	ModelVersion string    `gorm:"type:varchar(64)"`
	Features     datatypes.JSON
	PredictedKwh float64 `gorm:"not null"`
	BuildingID   int     `gorm:"index:idx_prediction_building_ts;not null"`
	ID           uint    `gorm:"primaryKey"`
	Fallback     bool    `gorm:"not null;default:false"`
}

// TableName specifies the table name for PredictionLog model.
func (PredictionLog) TableName() string {
	return "power_prediction"
}

// BeforeSave stores timestamps in UTC.
func (p *PredictionLog) BeforeSave(*gorm.DB) error {
	p.Timestamp = p.Timestamp.UTC()
	return nil
}
