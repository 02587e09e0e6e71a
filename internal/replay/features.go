package replay

import (
	"math"
	"time"

	"procodus.dev/energy-replay/internal/predict"
	"procodus.dev/energy-replay/internal/store"
)

// buildFeatures assembles the model input for a sample. Time features are
// taken from ts as observed in loc.
func buildFeatures(sample *store.HistoricalSample, lags store.Lags, loc *time.Location) predict.Features {
	local := sample.Timestamp.In(loc)
	hour := float64(local.Hour())
	weekday := int(local.Weekday())

	isWeekend := 0
	if weekday == int(time.Sunday) || weekday == int(time.Saturday) {
		isWeekend = 1
	}

	return predict.Features{
		HourSin:       math.Sin(2 * math.Pi * hour / 24),
		HourCos:       math.Cos(2 * math.Pi * hour / 24),
		Weekday:       weekday,
		IsWeekend:     isWeekend,
		Temperature:   sample.Temperature.ValueOrZero(),
		Humidity:      sample.Humidity.ValueOrZero(),
		WindSpeed:     sample.WindSpeed.ValueOrZero(),
		Precipitation: sample.Precipitation.ValueOrZero(),
		Lag1:          lags.Lag1,
		Lag24:         lags.Lag24,
		Lag168:        lags.Lag168,
	}
}
