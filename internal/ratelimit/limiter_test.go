package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"procodus.dev/iot-dashboard/internal/ratelimit"
	"procodus.dev/iot-dashboard/pkg/logger"
	"procodus.dev/iot-dashboard/pkg/metrics"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ = Describe("Limiter", func() {
	var (
		ctx     context.Context
		mr      *miniredis.Miniredis
		client  *redis.Client
		clk     *clock
		m       *metrics.APIMetrics
		limiter *ratelimit.Limiter
		rule    ratelimit.Rule
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		clk = &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
		m = metrics.NewAPIMetrics("test", prometheus.NewRegistry())

		var err error
		limiter, err = ratelimit.New(ratelimit.Config{
			Client:  client,
			Logger:  logger.Discard(),
			Enabled: true,
			Metrics: m,
			Clock:   clk.Now,
		})
		Expect(err).NotTo(HaveOccurred())

		rule = ratelimit.Rule{Name: "ingestion", Max: 5, Window: 60 * time.Second}
	})

	Describe("New", func() {
		It("should require a logger", func() {
			_, err := ratelimit.New(ratelimit.Config{Client: client, Enabled: true})
			Expect(err).To(MatchError(ContainSubstring("logger")))
		})

		It("should require a client when enabled", func() {
			_, err := ratelimit.New(ratelimit.Config{Logger: logger.Discard(), Enabled: true})
			Expect(err).To(MatchError(ContainSubstring("redis client")))
		})
	})

	Describe("Check", func() {
		It("should admit exactly max requests in one window", func() {
			for i := 1; i <= 5; i++ {
				res := limiter.Check(ctx, "dev-1", rule)
				Expect(res.Allowed).To(BeTrue(), "request %d", i)
				Expect(res.Current).To(Equal(i))
				Expect(res.Remaining).To(Equal(5 - i))
				clk.Advance(100 * time.Millisecond)
			}

			res := limiter.Check(ctx, "dev-1", rule)
			Expect(res.Allowed).To(BeFalse())
			Expect(res.Remaining).To(Equal(0))
			Expect(res.RetryAfter).To(BeNumerically(">=", 59))
			Expect(res.RetryAfter).To(BeNumerically("<=", 60))

			Expect(testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("ingestion", "allowed"))).To(Equal(5.0))
			Expect(testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("ingestion", "denied"))).To(Equal(1.0))
		})

		It("should admit again after the window passes", func() {
			for i := 0; i < 6; i++ {
				limiter.Check(ctx, "dev-1", rule)
			}
			Expect(limiter.Check(ctx, "dev-1", rule).Allowed).To(BeFalse())

			clk.Advance(61 * time.Second)
			res := limiter.Check(ctx, "dev-1", rule)
			Expect(res.Allowed).To(BeTrue())
			Expect(res.Current).To(Equal(1))
		})

		It("should slide rather than reset in fixed buckets", func() {
			for i := 0; i < 3; i++ {
				limiter.Check(ctx, "dev-1", rule)
			}
			clk.Advance(30 * time.Second)
			limiter.Check(ctx, "dev-1", rule)
			limiter.Check(ctx, "dev-1", rule)
			Expect(limiter.Check(ctx, "dev-1", rule).Allowed).To(BeFalse())

			// The first three leave the window, the last two and the denial stay.
			clk.Advance(31 * time.Second)
			res := limiter.Check(ctx, "dev-1", rule)
			Expect(res.Allowed).To(BeTrue())
			Expect(res.Current).To(Equal(4))
		})

		It("should keep identifiers independent", func() {
			for i := 0; i < 5; i++ {
				limiter.Check(ctx, "dev-a", rule)
			}
			Expect(limiter.Check(ctx, "dev-a", rule).Allowed).To(BeFalse())
			Expect(limiter.Check(ctx, "dev-b", rule).Allowed).To(BeTrue())
		})

		It("should report reset time from the oldest entry", func() {
			limiter.Check(ctx, "dev-1", rule)
			clk.Advance(20 * time.Second)

			res := limiter.Check(ctx, "dev-1", rule)
			Expect(res.ResetIn).To(Equal(40))
		})

		It("should report the full window on an empty key", func() {
			Expect(limiter.Check(ctx, "fresh", rule).ResetIn).To(Equal(60))
		})

		It("should expire idle keys", func() {
			limiter.Check(ctx, "dev-1", rule)
			key := ratelimit.Key("ingestion", "dev-1")
			Expect(mr.TTL(key)).To(Equal(61 * time.Second))

			mr.FastForward(62 * time.Second)
			Expect(mr.Exists(key)).To(BeFalse())
		})

		It("should never over-admit under concurrency", func() {
			var admitted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if limiter.Check(ctx, "dev-1", rule).Allowed {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			Expect(admitted.Load()).To(Equal(int32(5)))
		})

		It("should fail open when the store is down", func() {
			mr.Close()

			res := limiter.Check(ctx, "dev-1", rule)
			Expect(res.Allowed).To(BeTrue())
			Expect(res.Degraded).To(BeTrue())
			Expect(res.Limit).To(Equal(5))
			Expect(testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("ingestion", "degraded"))).To(Equal(1.0))
		})

		It("should admit everything when disabled", func() {
			off, err := ratelimit.New(ratelimit.Config{Logger: logger.Discard()})
			Expect(err).NotTo(HaveOccurred())
			Expect(off.Enabled()).To(BeFalse())

			for i := 0; i < 10; i++ {
				Expect(off.Check(ctx, "dev-1", rule).Allowed).To(BeTrue())
			}
		})
	})

	Describe("CheckMultiple", func() {
		var (
			ipRule     ratelimit.Rule
			deviceRule ratelimit.Rule
		)

		BeforeEach(func() {
			ipRule = ratelimit.Rule{Name: "ingestion_ip", Max: 10, Window: time.Minute}
			deviceRule = ratelimit.Rule{Name: "ingestion", Max: 3, Window: time.Minute}
		})

		It("should return the binding limit when all admit", func() {
			res := limiter.CheckMultiple(ctx, []ratelimit.Limit{
				{Identifier: "10.0.0.1", Rule: ipRule},
				{Identifier: "dev-1", Rule: deviceRule},
			})
			Expect(res.Allowed).To(BeTrue())
			Expect(res.Rule).To(Equal("ingestion"))
			Expect(res.Remaining).To(Equal(2))
		})

		It("should return the denial when any limit denies", func() {
			for i := 0; i < 3; i++ {
				limiter.Check(ctx, "dev-1", deviceRule)
			}
			res := limiter.CheckMultiple(ctx, []ratelimit.Limit{
				{Identifier: "10.0.0.1", Rule: ipRule},
				{Identifier: "dev-1", Rule: deviceRule},
			})
			Expect(res.Allowed).To(BeFalse())
			Expect(res.Rule).To(Equal("ingestion"))
			Expect(res.RetryAfter).To(BeNumerically(">", 0))
		})

		It("should admit an empty set", func() {
			Expect(limiter.CheckMultiple(ctx, nil).Allowed).To(BeTrue())
		})
	})

	Describe("Reset", func() {
		It("should unblock an identifier", func() {
			for i := 0; i < 6; i++ {
				limiter.Check(ctx, "dev-1", rule)
			}
			Expect(limiter.Reset(ctx, "dev-1", "ingestion")).To(Succeed())
			Expect(limiter.Check(ctx, "dev-1", rule).Allowed).To(BeTrue())
		})
	})
})

var _ = Describe("Rules", func() {
	It("should ship the default rule set", func() {
		rules := ratelimit.DefaultRules()
		Expect(rules.Get(ratelimit.RuleAPI).Max).To(Equal(100))
		Expect(rules.Get(ratelimit.RuleIngestion).WindowSeconds()).To(Equal(60))
	})

	It("should override without mutating the original", func() {
		base := ratelimit.DefaultRules()
		custom := base.With(ratelimit.RuleIngestion, 5, 0)

		Expect(custom.Get(ratelimit.RuleIngestion).Max).To(Equal(5))
		Expect(custom.Get(ratelimit.RuleIngestion).Window).To(Equal(time.Minute))
		Expect(base.Get(ratelimit.RuleIngestion).Max).To(Equal(60))
	})

	It("should fall back to the api rule for unknown names", func() {
		Expect(ratelimit.DefaultRules().Get("nope").Name).To(Equal(ratelimit.RuleAPI))
	})
})
