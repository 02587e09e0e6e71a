// Package replay walks a building's historical series forward in simulated
// time, predicting and classifying each hour as it is replayed.
package replay

import (
	"time"

	"github.com/guregu/null/v6"
)

// EventTick is the event name under which tick results are broadcast.
const EventTick = "replay_tick"

// FallbackModelVersion tags predictions synthesized while the model was
// unavailable.
const FallbackModelVersion = "fallback"

// TickResult is the outcome of one replayed hour.
type TickResult struct {
	Timestamp       time.Time  `json:"timestamp"`
	PredictedKwh    null.Float `json:"predictedKwh"`
	ThresholdValue  null.Float `json:"thresholdValue"`
	PeakProbability null.Float `json:"peakProbability"`
	Risk            null.Float `json:"risk"`
	IsPeak          null.Bool  `json:"isPeak"`
	ModelVersion    string     `json:"modelVersion"`
	ActualKwh       float64    `json:"actualKwh"`
	BuildingID      int        `json:"buildingId"`
	Fallback        bool       `json:"fallback"`
}
