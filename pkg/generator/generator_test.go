package generator_test

import (
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/pkg/generator"
)

var identifier = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

var _ = Describe("Generator", func() {
	It("should produce devices the API accepts", func() {
		g := generator.New(42)
		for _, d := range g.Devices(20) {
			Expect(d.DeviceID).To(MatchRegexp(identifier.String()))
			Expect(len(d.DeviceID)).To(BeNumerically(">=", 3))
			Expect(generator.DeviceTypes).To(ContainElement(d.Type))
			Expect(d.Name).NotTo(BeEmpty())
		}
	})

	It("should be reproducible for a fixed seed", func() {
		Expect(generator.New(7).Device()).To(Equal(generator.New(7).Device()))
	})

	It("should keep readings within physical bounds", func() {
		s := generator.New(1).Series()
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		readings := s.Window(start, time.Hour, 48)
		Expect(readings).To(HaveLen(48 * 4))

		for _, r := range readings {
			switch r.Type {
			case "humidity":
				Expect(r.Value).To(BeNumerically(">=", 20))
				Expect(r.Value).To(BeNumerically("<=", 95))
			case "battery":
				Expect(r.Value).To(BeNumerically(">=", 5))
				Expect(r.Value).To(BeNumerically("<=", 100))
			case "pressure":
				Expect(r.Value).To(BeNumerically(">=", 975))
				Expect(r.Value).To(BeNumerically("<=", 1045))
			}
		}
	})

	It("should stamp every reading of one step with the same instant", func() {
		t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for _, r := range generator.New(3).Series().Next(t) {
			Expect(r.Timestamp).To(Equal(t))
		}
	})
})
