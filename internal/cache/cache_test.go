package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/pkg/logger"
	"procodus.dev/iot-dashboard/pkg/metrics"
)

type device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var _ = Describe("Cache", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		m   *metrics.APIMetrics
		c   *cache.Cache
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		m = metrics.NewAPIMetrics("test", prometheus.NewRegistry())

		var err error
		c, err = cache.New(cache.Config{
			Client:  client,
			Logger:  logger.Discard(),
			Enabled: true,
			Metrics: m,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should require a client when enabled", func() {
			_, err := cache.New(cache.Config{Logger: logger.Discard(), Enabled: true})
			Expect(err).To(HaveOccurred())
		})

		It("should apply default TTLs", func() {
			Expect(c.TTLs()).To(Equal(cache.DefaultTTLs()))
		})
	})

	Describe("Get and Set", func() {
		It("should return a stored value until the TTL elapses", func() {
			c.Set(ctx, "cache:t:device:1", device{ID: "1", Name: "pump"}, 10*time.Second)

			v, ok := cache.Get[device](ctx, c, "cache:t:device:1")
			Expect(ok).To(BeTrue())
			Expect(v.Name).To(Equal("pump"))

			mr.FastForward(11 * time.Second)
			_, ok = cache.Get[device](ctx, c, "cache:t:device:1")
			Expect(ok).To(BeFalse())
		})

		It("should drop undecodable entries", func() {
			Expect(mr.Set("cache:t:device:1", "{not json")).To(Succeed())

			_, ok := cache.Get[device](ctx, c, "cache:t:device:1")
			Expect(ok).To(BeFalse())
			Expect(mr.Exists("cache:t:device:1")).To(BeFalse())
		})

		It("should count hits and misses", func() {
			cache.Get[device](ctx, c, "missing")
			c.Set(ctx, "present", device{}, time.Minute)
			cache.Get[device](ctx, c, "present")

			Expect(testutil.ToFloat64(m.CacheOperations.WithLabelValues("get", "miss"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.CacheOperations.WithLabelValues("get", "hit"))).To(Equal(1.0))
		})
	})

	Describe("GetOrSet", func() {
		It("should fetch on miss and serve from cache afterwards", func() {
			var calls atomic.Int32
			fetch := func(context.Context) (device, error) {
				calls.Add(1)
				return device{ID: "1", Name: "pump"}, nil
			}

			v, hit, err := cache.GetOrSet(ctx, c, "k", time.Minute, fetch)
			Expect(err).NotTo(HaveOccurred())
			Expect(hit).To(BeFalse())
			Expect(v.Name).To(Equal("pump"))

			c.Wait()

			v, hit, err = cache.GetOrSet(ctx, c, "k", time.Minute, fetch)
			Expect(err).NotTo(HaveOccurred())
			Expect(hit).To(BeTrue())
			Expect(v.Name).To(Equal("pump"))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("should propagate fetch errors without caching", func() {
			_, _, err := cache.GetOrSet(ctx, c, "k", time.Minute, func(context.Context) (device, error) {
				return device{}, errors.New("db down")
			})
			Expect(err).To(MatchError("db down"))
			c.Wait()
			Expect(mr.Exists("k")).To(BeFalse())
		})

		Context("racing an invalidation", func() {
			key := cache.DeviceListKey("org-1", nil)

			// fetchAcross runs a miss whose fetch spans invalidate.
			fetchAcross := func(invalidate func()) {
				started := make(chan struct{})
				release := make(chan struct{})
				done := make(chan struct{})
				go func() {
					defer GinkgoRecover()
					defer close(done)
					_, hit, err := cache.GetOrSet(ctx, c, key, time.Minute, func(context.Context) ([]device, error) {
						close(started)
						<-release
						return []device{{ID: "stale"}}, nil
					})
					Expect(err).NotTo(HaveOccurred())
					Expect(hit).To(BeFalse())
				}()

				Eventually(started).Should(BeClosed())
				invalidate()
				close(release)
				Eventually(done).Should(BeClosed())
				c.Wait()
			}

			It("should drop the write-back when the tenant was invalidated meanwhile", func() {
				fetchAcross(func() { c.InvalidateDeviceCreated(ctx, "org-1") })

				Expect(mr.Exists(key)).To(BeFalse())
				Expect(testutil.ToFloat64(m.CacheOperations.WithLabelValues("set", "stale"))).To(Equal(1.0))
			})

			It("should keep the write-back when another tenant was invalidated", func() {
				fetchAcross(func() { c.InvalidateDeviceCreated(ctx, "org-2") })

				Expect(mr.Exists(key)).To(BeTrue())
			})

			It("should not be matched by any invalidation pattern", func() {
				c.InvalidateDevice(ctx, "org-1", "dev-1")
				Expect(mr.Exists(cache.GenerationKey("org-1"))).To(BeTrue())
				c.InvalidateSchedules(ctx, "org-1")
				Expect(mr.Get(cache.GenerationKey("org-1"))).To(Equal("2"))
			})
		})

		It("should write back with the given TTL", func() {
			_, _, err := cache.GetOrSet(ctx, c, "k", 42*time.Second, func(context.Context) (device, error) {
				return device{ID: "1"}, nil
			})
			Expect(err).NotTo(HaveOccurred())
			c.Wait()
			Expect(mr.TTL("k")).To(Equal(42 * time.Second))
		})
	})

	Describe("DelPattern", func() {
		It("should remove only matching keys across scan pages", func() {
			for i := 0; i < 250; i++ {
				c.Set(ctx, cache.DeviceListKey("org-1", cache.Params{"page": i}), []device{}, time.Minute)
			}
			c.Set(ctx, cache.DeviceListKey("org-2", nil), []device{}, time.Minute)
			c.Set(ctx, cache.DeviceKey("org-1", "dev-1"), device{}, time.Minute)

			n, err := c.DelPattern(ctx, cache.DeviceListPattern("org-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(250))

			Expect(mr.Exists(cache.DeviceListKey("org-2", nil))).To(BeTrue())
			Expect(mr.Exists(cache.DeviceKey("org-1", "dev-1"))).To(BeTrue())
		})
	})

	Describe("invalidation", func() {
		var keys map[string]string

		BeforeEach(func() {
			keys = map[string]string{
				"device":   cache.DeviceKey("org-1", "dev-1"),
				"other":    cache.DeviceKey("org-1", "dev-2"),
				"list":     cache.DeviceListKey("org-1", cache.Params{"type": "sensor"}),
				"metadata": cache.MetadataKey("org-1"),
				"health":   cache.HealthKey("org-1", nil),
				"readings": cache.ReadingsKey("org-1", cache.Params{"device_id": "dev-1"}),
				"sched":    cache.ScheduleListKey("org-1", nil),
				"tenant2":  cache.DeviceListKey("org-2", cache.Params{"type": "sensor"}),
			}
			for _, k := range keys {
				c.Set(ctx, k, "v", time.Minute)
			}
		})

		exists := func(name string) bool { return mr.Exists(keys[name]) }

		It("should fan out a device update to entity, lists, metadata and health", func() {
			c.InvalidateDevice(ctx, "org-1", "dev-1")

			for _, gone := range []string{"device", "list", "metadata", "health"} {
				_, ok := cache.Get[string](ctx, c, keys[gone])
				Expect(ok).To(BeFalse(), gone)
			}
			for _, kept := range []string{"other", "readings", "sched", "tenant2"} {
				Expect(exists(kept)).To(BeTrue(), kept)
			}
			Expect(testutil.ToFloat64(m.CacheInvalidations.WithLabelValues("device"))).To(Equal(1.0))
		})

		It("should leave entity keys alone on device create", func() {
			c.InvalidateDeviceCreated(ctx, "org-1")

			Expect(exists("device")).To(BeTrue())
			Expect(exists("list")).To(BeFalse())
			Expect(exists("metadata")).To(BeFalse())
			Expect(exists("health")).To(BeFalse())
		})

		It("should fan out readings ingestion to readings and health", func() {
			c.InvalidateReadings(ctx, "org-1")

			Expect(exists("readings")).To(BeFalse())
			Expect(exists("health")).To(BeFalse())
			Expect(exists("list")).To(BeTrue())
		})

		It("should drop schedule lists", func() {
			c.InvalidateSchedules(ctx, "org-1")
			Expect(exists("sched")).To(BeFalse())
			Expect(exists("list")).To(BeTrue())
		})
	})

	Describe("degradation", func() {
		It("should no-op when the store is down", func() {
			mr.Close()

			c.Set(ctx, "k", "v", time.Minute)
			_, ok := cache.Get[string](ctx, c, "k")
			Expect(ok).To(BeFalse())

			v, hit, err := cache.GetOrSet(ctx, c, "k", time.Minute, func(context.Context) (string, error) {
				return "fresh", nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(hit).To(BeFalse())
			Expect(v).To(Equal("fresh"))
			c.Wait()

			Expect(func() { c.InvalidateDevice(ctx, "org-1", "dev-1") }).NotTo(Panic())
		})

		It("should bypass the store when disabled", func() {
			off, err := cache.New(cache.Config{Logger: logger.Discard()})
			Expect(err).NotTo(HaveOccurred())

			var calls int
			for i := 0; i < 3; i++ {
				_, hit, _ := cache.GetOrSet(ctx, off, "k", time.Minute, func(context.Context) (int, error) {
					calls++
					return calls, nil
				})
				Expect(hit).To(BeFalse())
			}
			Expect(calls).To(Equal(3))
			n, err := off.DelPattern(ctx, "*")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
