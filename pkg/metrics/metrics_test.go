package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/iot-dashboard/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	It("should register API metrics on a private registry", func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewAPIMetrics("iotdash", reg)

		m.RateLimitDecisions.WithLabelValues("ingestion", "denied").Inc()
		m.CacheOperations.WithLabelValues("get", "hit").Add(2)

		Expect(testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("ingestion", "denied"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.CacheOperations.WithLabelValues("get", "hit"))).To(Equal(2.0))
	})

	It("should allow independent registries in one process", func() {
		Expect(func() {
			metrics.NewAPIMetrics("iotdash", prometheus.NewRegistry())
			metrics.NewAPIMetrics("iotdash", prometheus.NewRegistry())
			metrics.NewMQMetrics("iotdash", prometheus.NewRegistry())
		}).NotTo(Panic())
	})

	It("should expose gathered metrics over HTTP", func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewMQMetrics("iotdash", reg)
		m.ConnectionStatus.Set(1)

		rec := httptest.NewRecorder()
		metrics.HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		body, _ := io.ReadAll(rec.Body)
		Expect(string(body)).To(ContainSubstring("iotdash_mq_connection_status 1"))
	})
})
