// Package generator produces synthetic hourly building consumption with
// weather, for seeding replay data.
package generator

import (
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Building describes a synthetic building.
type Building struct {
	Name      string  `fake:"{company}"`
	City      string  `fake:"{city}"`
	Latitude  float64 `fake:"{latitude}"`
	Longitude float64 `fake:"{longitude}"`
}

// Reading is one hour of synthetic consumption and weather.
type Reading struct {
	Timestamp     time.Time
	PowerKwh      float64
	Temperature   float64
	Humidity      float64
	WindSpeed     float64
	Precipitation float64
}

// LoadGenerator produces correlated weather and load readings.
type LoadGenerator struct {
	faker        *gofakeit.Faker
	baseLoad     float64
	occupiedLoad float64
	baselineTemp float64
	baselineHum  float64
	noise        float64
}

// NewBuilding returns a building with fake descriptive fields.
func NewBuilding(faker *gofakeit.Faker) (*Building, error) {
	var b Building
	if err := faker.Struct(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// NewLoadGenerator creates a generator. A zero seed picks a random one.
func NewLoadGenerator(seed uint64) *LoadGenerator {
	faker := gofakeit.New(seed)
	return &LoadGenerator{
		faker:        faker,
		baseLoad:     faker.Float64Range(40, 80),  // kWh at night
		occupiedLoad: faker.Float64Range(80, 160), // extra kWh at full occupancy
		baselineTemp: faker.Float64Range(8, 22),   // °C
		baselineHum:  faker.Float64Range(55, 75),  // %
		noise:        faker.Float64Range(0.01, 0.04),
	}
}

// Faker returns the generator's random source.
func (g *LoadGenerator) Faker() *gofakeit.Faker {
	return g.faker
}

// Temperature follows a daily cycle peaking mid afternoon.
func (g *LoadGenerator) Temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	daily := 5 * math.Sin((hour-9)*math.Pi/12)
	seasonal := 8 * math.Sin((float64(t.YearDay())-110)*2*math.Pi/365)
	return g.baselineTemp + daily + seasonal + g.faker.Float64Range(-1, 1)
}

// Humidity is inversely correlated with temperature.
func (g *LoadGenerator) Humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.Hour())
	daily := -6 * math.Sin((hour-9)*math.Pi/12)
	tempEffect := -(temperature - g.baselineTemp) * 1.2
	humidity := g.baselineHum + daily + tempEffect + g.faker.Float64Range(-2, 2)
	return math.Max(15, math.Min(100, humidity))
}

// WindSpeed in m/s, gusting occasionally.
func (g *LoadGenerator) WindSpeed() float64 {
	wind := g.faker.Float64Range(0.5, 6)
	if g.faker.Float64() < 0.05 {
		wind += g.faker.Float64Range(5, 12)
	}
	return wind
}

// Precipitation in mm, zero most hours.
func (g *LoadGenerator) Precipitation(humidity float64) float64 {
	if humidity < 80 || g.faker.Float64() > 0.3 {
		return 0
	}
	return g.faker.Float64Range(0.1, 4)
}

// Occupancy returns the share of the building in use at t, 0..1.
func Occupancy(t time.Time) float64 {
	hour := t.Hour()
	weekend := t.Weekday() == time.Saturday || t.Weekday() == time.Sunday

	var occupancy float64
	switch {
	case hour >= 8 && hour < 18:
		occupancy = 1
	case hour == 7 || hour == 18:
		occupancy = 0.5
	case hour >= 19 && hour < 22:
		occupancy = 0.2
	}

	if weekend {
		occupancy *= 0.3
	}
	return occupancy
}

// Power derives consumption from occupancy and heating or cooling demand.
func (g *LoadGenerator) Power(t time.Time, temperature float64) float64 {
	load := g.baseLoad + g.occupiedLoad*Occupancy(t)

	switch {
	case temperature > 22:
		load += (temperature - 22) * 6
	case temperature < 12:
		load += (12 - temperature) * 4
	}

	load *= 1 + g.faker.Float64Range(-g.noise, g.noise)

	// Occasional equipment spike (2% chance)
	if g.faker.Float64() < 0.02 {
		load *= g.faker.Float64Range(1.3, 1.6)
	}

	return math.Round(load*100) / 100
}

// Reading generates one correlated reading for t.
func (g *LoadGenerator) Reading(t time.Time) Reading {
	temperature := g.Temperature(t)
	humidity := g.Humidity(t, temperature)

	return Reading{
		Timestamp:     t,
		PowerKwh:      g.Power(t, temperature),
		Temperature:   math.Round(temperature*10) / 10,
		Humidity:      math.Round(humidity*10) / 10,
		WindSpeed:     math.Round(g.WindSpeed()*10) / 10,
		Precipitation: math.Round(g.Precipitation(humidity)*10) / 10,
	}
}

// Series generates hours consecutive readings starting at start, truncated
// to the hour.
func (g *LoadGenerator) Series(start time.Time, hours int) []Reading {
	if hours <= 0 {
		return nil
	}

	start = start.Truncate(time.Hour)
	readings := make([]Reading, hours)
	for i := range readings {
		readings[i] = g.Reading(start.Add(time.Duration(i) * time.Hour))
	}
	return readings
}
