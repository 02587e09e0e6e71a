// Package predict calls the external power-consumption model.
package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/guregu/null/v6"
)

// ErrInvalidPrediction is returned when the model answers without a usable value.
var ErrInvalidPrediction = errors.New("model returned no finite prediction")

// Features is the feature vector sent to the model.
type Features struct {
	Lag1          null.Float `json:"power_consumption_lag1"`
	Lag24         null.Float `json:"power_consumption_lag24"`
	Lag168        null.Float `json:"power_consumption_lag168"`
	HourSin       float64    `json:"hour_sin"`
	HourCos       float64    `json:"hour_cos"`
	Temperature   float64    `json:"temperature"`
	Humidity      float64    `json:"humidity"`
	WindSpeed     float64    `json:"wind_speed"`
	Precipitation float64    `json:"precipitation"`
	Weekday       int        `json:"weekday"`
	IsWeekend     int        `json:"is_weekend"`
}

// Result is a model prediction.
type Result struct {
	ModelVersion string
	PredictedKwh float64
}

// Predictor returns a next-hour consumption prediction for a feature vector.
// Implementations must honor ctx cancellation.
type Predictor interface {
	Predict(ctx context.Context, features Features) (Result, error)
}

type request struct {
	Features Features `json:"features"`
}

// response accepts the field aliases older model deployments answer with.
type response struct {
	Prediction   *float64 `json:"prediction"`
	Pred         *float64 `json:"pred"`
	Yhat         *float64 `json:"yhat"`
	ModelVersion *string  `json:"model_version"`
	Version      *string  `json:"version"`
}

func encodeRequest(features Features) ([]byte, error) {
	body, err := json.Marshal(request{Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}
	return body, nil
}

func decodeResponse(body []byte) (Result, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to decode model response: %w", err)
	}

	value := firstNonNil(resp.Prediction, resp.Pred, resp.Yhat)
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return Result{}, ErrInvalidPrediction
	}

	result := Result{PredictedKwh: *value}
	if v := firstNonNil(resp.ModelVersion, resp.Version); v != nil {
		result.ModelVersion = *v
	}

	return result, nil
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
