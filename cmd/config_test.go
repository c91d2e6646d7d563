package main

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/internal/ratelimit"
)

var _ = Describe("Config", func() {
	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	BeforeEach(func() {
		Expect(InitConfig("")).To(Succeed())
	})

	Describe("loadRules", func() {
		It("should keep the defaults without overrides", func() {
			Expect(loadRules()).To(Equal(ratelimit.DefaultRules()))
		})

		It("should apply per-rule overrides from the environment", func() {
			setenv("IOTDASH_RATELIMIT_RULES_API_MAX", "5")
			setenv("IOTDASH_RATELIMIT_RULES_INGESTION_WINDOW", "30")

			rules := loadRules()
			Expect(rules.Get(ratelimit.RuleAPI).Max).To(Equal(5))
			Expect(rules.Get(ratelimit.RuleAPI).Window).To(Equal(time.Minute))
			Expect(rules.Get(ratelimit.RuleIngestion).Max).To(Equal(60))
			Expect(rules.Get(ratelimit.RuleIngestion).Window).To(Equal(30 * time.Second))
		})
	})

	Describe("loadTTLs", func() {
		It("should apply per-resource overrides from the environment", func() {
			setenv("IOTDASH_CACHE_TTL_READINGS", "5")
			Expect(loadTTLs().Readings).To(Equal(5 * time.Second))
		})
	})

	Describe("trustedProxies", func() {
		It("should accept addresses and ranges", func() {
			setenv("IOTDASH_HTTP_TRUSTED_PROXIES", "10.0.0.0/8 192.0.2.1")
			prefixes, err := trustedProxies()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefixes).To(HaveLen(2))
			Expect(prefixes[1].Bits()).To(Equal(32))
		})

		It("should reject malformed entries", func() {
			setenv("IOTDASH_HTTP_TRUSTED_PROXIES", "not-an-ip")
			_, err := trustedProxies()
			Expect(err).To(MatchError(ContainSubstring("not-an-ip")))
		})
	})
})
