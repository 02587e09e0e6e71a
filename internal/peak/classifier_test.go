package peak_test

import (
	"github.com/guregu/null/v6"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/energy-replay/internal/peak"
)

var _ = Describe("Classify", func() {
	var (
		threshold = null.FloatFrom(140)
		mu        = null.FloatFrom(100)
		sigma     = null.FloatFrom(20)
	)

	It("should return an unknown classification without a threshold", func() {
		c := peak.Classify(500, null.Float{}, null.Float{}, null.Float{})
		Expect(c.IsPeak.Valid).To(BeFalse())
		Expect(c.Risk.Valid).To(BeFalse())
		Expect(c.PeakProbability.Valid).To(BeFalse())
	})

	It("should treat the threshold itself as a peak", func() {
		c := peak.Classify(140, threshold, mu, sigma)
		Expect(c.IsPeak).To(Equal(null.BoolFrom(true)))
	})

	It("should not flag values below the threshold", func() {
		c := peak.Classify(139.9, threshold, mu, sigma)
		Expect(c.IsPeak).To(Equal(null.BoolFrom(false)))
		Expect(c.PeakProbability.Float64).To(BeNumerically("<=", 0.5))
	})

	It("should center risk at the mean", func() {
		c := peak.Classify(100, threshold, mu, sigma)
		Expect(c.Risk.Float64).To(BeNumerically("~", 0.5, 1e-12))
		Expect(c.PeakProbability.Float64).To(BeNumerically("~", 0.5, 1e-12))
	})

	It("should map z-scores linearly within three sigma", func() {
		c := peak.Classify(130, threshold, mu, sigma) // z = 1.5
		Expect(c.Risk.Float64).To(BeNumerically("~", 0.75, 1e-12))
	})

	It("should saturate risk beyond three sigma", func() {
		Expect(peak.Classify(200, threshold, mu, sigma).Risk.Float64).To(Equal(1.0))
		Expect(peak.Classify(0, threshold, mu, sigma).Risk.Float64).To(Equal(0.0))
	})

	It("should report at least one half probability for peaks", func() {
		// A low threshold makes a below-mean value a peak with low risk.
		c := peak.Classify(90, null.FloatFrom(80), mu, sigma)
		Expect(c.IsPeak.Bool).To(BeTrue())
		Expect(c.Risk.Float64).To(BeNumerically("<", 0.5))
		Expect(c.PeakProbability.Float64).To(Equal(0.5))
	})

	Context("when sigma is unusable", func() {
		It("should leave risk unknown and use fixed defaults", func() {
			peakCase := peak.Classify(150, threshold, mu, null.FloatFrom(0))
			Expect(peakCase.Risk.Valid).To(BeFalse())
			Expect(peakCase.PeakProbability.Float64).To(Equal(0.7))

			calm := peak.Classify(50, threshold, mu, null.Float{})
			Expect(calm.Risk.Valid).To(BeFalse())
			Expect(calm.PeakProbability.Float64).To(Equal(0.3))
		})
	})
})
