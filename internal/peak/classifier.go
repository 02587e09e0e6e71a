// Package peak classifies predicted consumption against a building's
// statistical threshold.
//
// The risk mapping (0.5 + z/6, clamped) and the 0.7/0.3 probability defaults
// are heuristics, not a calibrated probability model.
package peak

import (
	"math"

	"github.com/guregu/null/v6"
)

// Default peak probabilities used when risk cannot be computed.
const (
	defaultPeakProbability    = 0.7
	defaultNonPeakProbability = 0.3
)

// Classification is the peak assessment of one prediction. All fields are
// invalid when no threshold is known.
type Classification struct {
	IsPeak          null.Bool
	Risk            null.Float
	PeakProbability null.Float
}

// Classify compares predictedKwh against threshold. mu and sigma refine the
// result into a continuous risk score; risk is invalid when sigma is missing
// or not positive.
func Classify(predictedKwh float64, threshold, mu, sigma null.Float) Classification {
	if !threshold.Valid {
		return Classification{}
	}

	isPeak := predictedKwh >= threshold.Float64

	var risk null.Float
	if sigma.Valid && sigma.Float64 > 0 && mu.Valid {
		z := (predictedKwh - mu.Float64) / sigma.Float64
		risk = null.FloatFrom(clamp(0.5+z/6, 0, 1))
	}

	var probability float64
	if isPeak {
		probability = math.Max(0.5, valueOr(risk, defaultPeakProbability))
	} else {
		probability = math.Min(0.5, valueOr(risk, defaultNonPeakProbability))
	}

	return Classification{
		IsPeak:          null.BoolFrom(isPeak),
		Risk:            risk,
		PeakProbability: null.FloatFrom(probability),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func valueOr(f null.Float, fallback float64) float64 {
	if f.Valid {
		return f.Float64
	}
	return fallback
}
