package store_test

import (
	"context"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/stat"

	"procodus.dev/energy-replay/internal/store"
)

func openTestStore(logger *slog.Logger, thresholdType store.ThresholdType) *store.Store {
	s, err := store.Open(&store.Config{
		Logger:        logger,
		Driver:        store.DriverSQLite,
		Path:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		ThresholdType: thresholdType,
	})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		Expect(s.Close()).To(Succeed())
	})
	return s
}

func hourlySamples(buildingID int, start time.Time, values ...float64) []store.HistoricalSample {
	samples := make([]store.HistoricalSample, len(values))
	for i, v := range values {
		samples[i] = store.HistoricalSample{
			BuildingID:  buildingID,
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			PowerKwh:    v,
			Temperature: null.FloatFrom(20 + float64(i)),
		}
	}
	return samples
}

var _ = Describe("Store", func() {
	var (
		logger *slog.Logger
		ctx    context.Context
		day    time.Time
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		ctx = context.Background()
		day = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	})

	Describe("Open", func() {
		It("should return error when config is nil", func() {
			s, err := store.Open(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(s).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			s, err := store.Open(&store.Config{Driver: store.DriverSQLite, Path: "file::memory:"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(s).To(BeNil())
		})

		It("should return error when postgres host is empty", func() {
			s, err := store.Open(&store.Config{Logger: logger, Driver: store.DriverPostgres, Port: 5432})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database host"))
			Expect(s).To(BeNil())
		})

		It("should return error when sqlite path is empty", func() {
			s, err := store.Open(&store.Config{Logger: logger, Driver: store.DriverSQLite})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sqlite path"))
			Expect(s).To(BeNil())
		})

		It("should reject unknown drivers", func() {
			s, err := store.Open(&store.Config{Logger: logger, Driver: "oracle"})
			Expect(err).To(MatchError(ContainSubstring("unsupported database driver")))
			Expect(s).To(BeNil())
		})

		It("should open and ping an in-memory database", func() {
			s := openTestStore(logger, "")
			Expect(s.Ping(ctx)).To(Succeed())
		})
	})

	Describe("samples", func() {
		var s *store.Store

		BeforeEach(func() {
			s = openTestStore(logger, "")
			n, err := s.InsertSamples(ctx, hourlySamples(74, day, 10, 11, 12))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(3))
		})

		It("should skip samples that already exist", func() {
			n, err := s.InsertSamples(ctx, hourlySamples(74, day, 99, 99))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			series, err := s.PowerSeries(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(series).To(Equal([]float64{10, 11, 12}))
		})

		It("should return the earliest sample", func() {
			sample, err := s.FirstSample(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.Timestamp).To(BeTemporally("==", day))
			Expect(sample.PowerKwh).To(Equal(10.0))
		})

		It("should return ErrNotFound for a building without history", func() {
			_, err := s.FirstSample(ctx, 99)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should return the sample at or after a timestamp", func() {
			sample, err := s.NextSample(ctx, 74, day.Add(30*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.Timestamp).To(BeTemporally("==", day.Add(time.Hour)))

			sample, err = s.NextSample(ctx, 74, day.Add(2*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.PowerKwh).To(Equal(12.0))
			Expect(sample.Temperature).To(Equal(null.FloatFrom(22)))
		})

		It("should return ErrNotFound when the series is exhausted", func() {
			_, err := s.NextSample(ctx, 74, day.Add(3*time.Hour))
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should resolve lags independently", func() {
			lags, err := s.LagsAt(ctx, 74, day.Add(2*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(lags.Lag1).To(Equal(null.FloatFrom(11)))
			Expect(lags.Lag24.Valid).To(BeFalse())
			Expect(lags.Lag168.Valid).To(BeFalse())
		})

		It("should order samples written in another zone", func() {
			seoul, err := time.LoadLocation("Asia/Seoul")
			Expect(err).NotTo(HaveOccurred())
			start := time.Date(2024, 7, 1, 0, 0, 0, 0, seoul)
			_, err = s.InsertSamples(ctx, hourlySamples(75, start, 10, 11, 12))
			Expect(err).NotTo(HaveOccurred())

			sample, err := s.NextSample(ctx, 75, start.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.Timestamp).To(BeTemporally("==", start.Add(time.Hour)))
			Expect(sample.PowerKwh).To(Equal(11.0))

			_, err = s.NextSample(ctx, 75, start.Add(3*time.Hour))
			Expect(err).To(MatchError(store.ErrNotFound))

			lags, err := s.LagsAt(ctx, 75, start.Add(2*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(lags.Lag1).To(Equal(null.FloatFrom(11)))
		})

		It("should resolve weekly lags", func() {
			_, err := s.InsertSamples(ctx, hourlySamples(74, day.Add(store.Lag168), 20))
			Expect(err).NotTo(HaveOccurred())

			lags, err := s.LagsAt(ctx, 74, day.Add(store.Lag168))
			Expect(err).NotTo(HaveOccurred())
			Expect(lags.Lag168).To(Equal(null.FloatFrom(10)))
			Expect(lags.Lag1.Valid).To(BeFalse())
		})
	})

	Describe("EnsureThreshold", func() {
		It("should persist mean plus two sample standard deviations", func() {
			s := openTestStore(logger, store.ThresholdMuPlus2Sigma)
			values := []float64{10, 12, 14, 16, 30}
			_, err := s.InsertSamples(ctx, hourlySamples(74, day, values...))
			Expect(err).NotTo(HaveOccurred())

			threshold, err := s.EnsureThreshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())

			mu := stat.Mean(values, nil)
			sigma := stat.StdDev(values, nil)
			Expect(threshold.ThresholdType).To(Equal(store.ThresholdMuPlus2Sigma))
			Expect(threshold.ThresholdValue).To(BeNumerically("~", mu+2*sigma, 1e-9))

			stored, err := s.Threshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ThresholdValue).To(BeNumerically("~", mu+2*sigma, 1e-9))
			Expect(stored.Mu.Float64).To(BeNumerically("~", mu, 1e-9))
			Expect(stored.Sigma.Float64).To(BeNumerically("~", sigma, 1e-9))
		})

		It("should overwrite an existing threshold", func() {
			s := openTestStore(logger, "")
			_, err := s.InsertSamples(ctx, hourlySamples(74, day, 10, 10))
			Expect(err).NotTo(HaveOccurred())

			first, err := s.EnsureThreshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ThresholdValue).To(BeNumerically("~", 10, 1e-9))

			_, err = s.InsertSamples(ctx, hourlySamples(74, day.Add(2*time.Hour), 40, 40))
			Expect(err).NotTo(HaveOccurred())

			_, err = s.EnsureThreshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())

			stored, err := s.Threshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Mu.Float64).To(BeNumerically("~", 25, 1e-9))
			Expect(stored.ThresholdValue).To(BeNumerically(">", 25))
		})

		It("should finish the computation when the caller goes away", func() {
			s := openTestStore(logger, "")
			_, err := s.InsertSamples(ctx, hourlySamples(74, day, 1, 2, 3))
			Expect(err).NotTo(HaveOccurred())

			canceled, cancel := context.WithCancel(ctx)
			cancel()

			threshold, err := s.EnsureThreshold(canceled, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(threshold).NotTo(BeNil())

			stored, err := s.Threshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ThresholdValue).To(BeNumerically("~", threshold.ThresholdValue, 1e-9))
		})

		It("should not write a threshold when the building has no history", func() {
			s := openTestStore(logger, "")

			threshold, err := s.EnsureThreshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(threshold).To(BeNil())

			stored, err := s.Threshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(BeNil())
		})

		It("should use the 95th percentile when configured", func() {
			s := openTestStore(logger, store.ThresholdP95)
			values := make([]float64, 100)
			for i := range values {
				values[i] = float64(i + 1)
			}
			_, err := s.InsertSamples(ctx, hourlySamples(74, day, values...))
			Expect(err).NotTo(HaveOccurred())

			threshold, err := s.EnsureThreshold(ctx, 74)
			Expect(err).NotTo(HaveOccurred())
			Expect(threshold.ThresholdType).To(Equal(store.ThresholdP95))
			Expect(threshold.ThresholdValue).To(Equal(95.0))
		})
	})

	Describe("ComputeThreshold", func() {
		It("should use zero sigma for a single value", func() {
			threshold := store.ComputeThreshold(1, store.ThresholdMuPlus2Sigma, []float64{42})
			Expect(threshold.ThresholdValue).To(Equal(42.0))
			Expect(threshold.Sigma).To(Equal(null.FloatFrom(0)))
			Expect(math.IsNaN(threshold.ThresholdValue)).To(BeFalse())
		})

		It("should default unknown types to mean plus two sigma", func() {
			threshold := store.ComputeThreshold(1, store.ParseThresholdType("bogus"), []float64{1, 3})
			Expect(threshold.ThresholdType).To(Equal(store.ThresholdMuPlus2Sigma))
			Expect(threshold.ThresholdValue).To(BeNumerically("~", 2+2*math.Sqrt2, 1e-9))
		})
	})

	Describe("predictions", func() {
		It("should save and list prediction logs newest first", func() {
			s := openTestStore(logger, "")
			for i := range 3 {
				Expect(s.SavePrediction(ctx, &store.PredictionLog{
					BuildingID:   74,
					Timestamp:    day.Add(time.Duration(i) * time.Hour),
					PredictedKwh: float64(i),
					ModelVersion: "v1",
					Features:     []byte(`{"hour_sin":0}`),
				})).To(Succeed())
			}

			entries, err := s.Predictions(ctx, 74, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].PredictedKwh).To(Equal(2.0))
		})

		It("should order predictions across zones by instant", func() {
			s := openTestStore(logger, "")
			seoul, err := time.LoadLocation("Asia/Seoul")
			Expect(err).NotTo(HaveOccurred())

			// 08:00 in Seoul is an hour before midnight UTC.
			Expect(s.SavePrediction(ctx, &store.PredictionLog{
				BuildingID: 74, Timestamp: day, PredictedKwh: 1, ModelVersion: "v1",
			})).To(Succeed())
			Expect(s.SavePrediction(ctx, &store.PredictionLog{
				BuildingID: 74, Timestamp: time.Date(2024, 7, 1, 8, 0, 0, 0, seoul), PredictedKwh: 2, ModelVersion: "v1",
			})).To(Succeed())

			entries, err := s.Predictions(ctx, 74, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].PredictedKwh).To(Equal(1.0))
		})
	})
})
