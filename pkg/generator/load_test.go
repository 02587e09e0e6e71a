package generator_test

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/energy-replay/pkg/generator"
)

var _ = Describe("LoadGenerator", func() {
	var (
		start time.Time
	)

	BeforeEach(func() {
		start = time.Date(2024, 7, 1, 0, 30, 0, 0, time.UTC) // a Monday
	})

	Describe("Series", func() {
		It("should return consecutive hourly readings", func() {
			readings := generator.NewLoadGenerator(1).Series(start, 48)

			Expect(readings).To(HaveLen(48))
			Expect(readings[0].Timestamp).To(Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)))
			for i := 1; i < len(readings); i++ {
				Expect(readings[i].Timestamp.Sub(readings[i-1].Timestamp)).To(Equal(time.Hour))
			}
		})

		It("should return nothing for a non-positive length", func() {
			Expect(generator.NewLoadGenerator(1).Series(start, 0)).To(BeEmpty())
		})

		It("should be deterministic for a seed", func() {
			a := generator.NewLoadGenerator(7).Series(start, 24)
			b := generator.NewLoadGenerator(7).Series(start, 24)
			Expect(a).To(Equal(b))
		})

		It("should stay within plausible bounds", func() {
			for _, r := range generator.NewLoadGenerator(3).Series(start, 24*14) {
				Expect(r.PowerKwh).To(BeNumerically(">", 0))
				Expect(r.Humidity).To(BeNumerically(">=", 15))
				Expect(r.Humidity).To(BeNumerically("<=", 100))
				Expect(r.WindSpeed).To(BeNumerically(">=", 0))
				Expect(r.Precipitation).To(BeNumerically(">=", 0))
			}
		})

		It("should consume more during business hours than at night", func() {
			g := generator.NewLoadGenerator(11)
			var day, night float64
			for _, r := range g.Series(start, 24*5) { // Monday to Friday
				switch r.Timestamp.Hour() {
				case 12:
					day += r.PowerKwh
				case 3:
					night += r.PowerKwh
				}
			}
			Expect(day).To(BeNumerically(">", night))
		})
	})

	Describe("Occupancy", func() {
		DescribeTable("should follow the working week",
			func(t time.Time, expected float64) {
				Expect(generator.Occupancy(t)).To(BeNumerically("~", expected, 1e-9))
			},
			Entry("weekday noon", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), 1.0),
			Entry("weekday early morning", time.Date(2024, 7, 1, 7, 0, 0, 0, time.UTC), 0.5),
			Entry("weekday night", time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC), 0.0),
			Entry("saturday noon", time.Date(2024, 7, 6, 12, 0, 0, 0, time.UTC), 0.3),
		)
	})

	Describe("NewBuilding", func() {
		It("should fill descriptive fields", func() {
			b, err := generator.NewBuilding(gofakeit.New(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Name).NotTo(BeEmpty())
			Expect(b.City).NotTo(BeEmpty())
			Expect(b.Latitude).To(BeNumerically(">=", -90))
			Expect(b.Latitude).To(BeNumerically("<=", 90))
		})
	})
})
