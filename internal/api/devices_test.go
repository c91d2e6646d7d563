package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/ratelimit"
)

var _ = Describe("Devices", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(ratelimit.DefaultRules())
	})

	It("should create, read, update and delete a device", func() {
		rec, env := h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
		Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())
		Expect(env["success"]).To(BeTrue())
		Expect(data(env)).To(HaveKeyWithValue("device_id", "pump-1"))
		Expect(data(env)).To(HaveKeyWithValue("created_by", "field"))

		rec, env = h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(data(env)).To(HaveKeyWithValue("name", "Device pump-1"))

		rec, env = h.call(http.MethodPatch, "/api/devices/pump-1", memberKey, map[string]any{"status": "maintenance"})
		Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
		Expect(data(env)).To(HaveKeyWithValue("status", "maintenance"))

		rec, env = h.call(http.MethodDelete, "/api/devices/pump-1", adminKey, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(data(env)).To(HaveKeyWithValue("deleted", true))

		rec, env = h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(errorCode(env)).To(Equal("NOT_FOUND"))
	})

	It("should reject duplicate device ids with 409", func() {
		rec, _ := h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
		Expect(rec.Code).To(Equal(http.StatusCreated))

		rec, env := h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(env)).To(Equal("CONFLICT"))
	})

	It("should reject a viewer delete and leave the device untouched", func() {
		rec, _ := h.call(http.MethodPost, "/api/devices", adminKey, device("pump-1"))
		Expect(rec.Code).To(Equal(http.StatusCreated))

		rec, env := h.call(http.MethodDelete, "/api/devices/pump-1", viewerKey, nil)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(errorCode(env)).To(Equal("FORBIDDEN"))
		Expect(env["error"]).To(HaveKeyWithValue("permission", "devices:delete"))

		rec, _ = h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(testutil.ToFloat64(h.metrics.AuthFailures.WithLabelValues("forbidden"))).To(Equal(float64(1)))
	})

	It("should require credentials", func() {
		rec, env := h.call(http.MethodGet, "/api/devices", "", nil)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(errorCode(env)).To(Equal("UNAUTHORIZED"))
	})

	It("should report every schema violation", func() {
		rec, env := h.call(http.MethodPost, "/api/devices", memberKey, map[string]any{
			"device_id": "x",
			"type":      "toaster",
		})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(env)).To(Equal("VALIDATION_ERROR"))

		errs, ok := env["error"].(map[string]any)["errors"].([]any)
		Expect(ok).To(BeTrue())
		var paths []string
		for _, e := range errs {
			paths = append(paths, e.(map[string]any)["path"].(string))
		}
		Expect(paths).To(ContainElements("device_id", "name", "type"))
	})

	It("should report type and constraint violations together", func() {
		rec, env := h.call(http.MethodPost, "/api/devices", memberKey, map[string]any{
			"device_id": "dev-1",
			"name":      42,
			"type":      "bogus",
			"status":    "nope",
		})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(env)).To(Equal("VALIDATION_ERROR"))

		errs, ok := env["error"].(map[string]any)["errors"].([]any)
		Expect(ok).To(BeTrue())
		codes := map[string]any{}
		for _, e := range errs {
			fe := e.(map[string]any)
			codes[fe["path"].(string)] = fe["code"]
		}
		Expect(codes).To(Equal(map[string]any{
			"name":   "invalid_type",
			"type":   "oneof",
			"status": "oneof",
		}))
	})

	It("should strip operator keys before validation", func() {
		body := device("pump-1")
		body["$where"] = "1 == 1"
		rec, env := h.call(http.MethodPost, "/api/devices", memberKey, body)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(data(env)).NotTo(HaveKey("$where"))
	})

	It("should reject unknown query parameters", func() {
		rec, env := h.call(http.MethodGet, "/api/devices?tenant=other&sort=name", viewerKey, nil)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(env)).To(Equal("INVALID_QUERY_PARAM"))
		Expect(env["error"]).To(HaveKeyWithValue("params", ConsistOf("sort", "tenant")))
	})

	It("should reject an unsupported content type", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/devices", strings.NewReader("name=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-API-Key", memberKey)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnsupportedMediaType))
		Expect(rec.Body.String()).To(ContainSubstring("UNSUPPORTED_MEDIA_TYPE"))
	})

	Describe("caching", func() {
		It("should serve a repeated list from the cache until a write invalidates it", func() {
			rec, _ := h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec, env := h.call(http.MethodGet, "/api/devices?type=sensor", viewerKey, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("X-Cache")).To(Equal("MISS"))
			Expect(items(env)).To(HaveLen(1))
			h.settle()

			rec, env = h.call(http.MethodGet, "/api/devices?type=sensor", viewerKey, nil)
			Expect(rec.Header().Get("X-Cache")).To(Equal("HIT"))
			Expect(items(env)).To(HaveLen(1))
			Expect(env["pagination"]).To(HaveKeyWithValue("total", float64(1)))

			rec, _ = h.call(http.MethodPost, "/api/devices", memberKey, device("pump-2"))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec, env = h.call(http.MethodGet, "/api/devices?type=sensor", viewerKey, nil)
			Expect(rec.Header().Get("X-Cache")).To(Equal("MISS"))
			Expect(items(env)).To(HaveLen(2))
		})

		It("should drop the entity entry on update", func() {
			h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
			h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
			h.settle()

			rec, _ := h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
			Expect(rec.Header().Get("X-Cache")).To(Equal("HIT"))

			rec, _ = h.call(http.MethodPut, "/api/devices/pump-1", memberKey, map[string]any{"name": "Renamed"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec, env := h.call(http.MethodGet, "/api/devices/pump-1", viewerKey, nil)
			Expect(rec.Header().Get("X-Cache")).To(Equal("MISS"))
			Expect(data(env)).To(HaveKeyWithValue("name", "Renamed"))
		})

		It("should keep serving reads when redis is down", func() {
			h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
			h.redis.Close()

			rec, env := h.call(http.MethodGet, "/api/devices", viewerKey, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(items(env)).To(HaveLen(1))
		})
	})

	Describe("fleet views", func() {
		It("should summarize metadata and health", func() {
			h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
			meter := device("meter-1")
			meter["type"] = "meter"
			h.call(http.MethodPost, "/api/devices", memberKey, meter)

			rec, _ := h.call(http.MethodPost, "/api/readings", memberKey, map[string]any{
				"device_id": "pump-1",
				"readings": []map[string]any{
					{"type": "temperature", "value": 21.5, "timestamp": time.Now().UTC().Format(time.RFC3339)},
				},
			})
			Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())

			rec, env := h.call(http.MethodGet, "/api/devices/metadata", viewerKey, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(data(env)).To(HaveKeyWithValue("total", float64(2)))

			rec, env = h.call(http.MethodGet, "/api/devices/health", viewerKey, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(data(env)).To(HaveKeyWithValue("online", float64(1)))
			Expect(data(env)).To(HaveKeyWithValue("never_seen", float64(1)))
		})
	})

	Describe("events", func() {
		It("should publish lifecycle events", func() {
			h.call(http.MethodPost, "/api/devices", memberKey, device("pump-1"))
			h.call(http.MethodDelete, "/api/devices/pump-1", adminKey, nil)
			h.settle()

			Expect(h.publisher.RoutingKeys()).To(ConsistOf(events.DeviceCreated, events.DeviceDeleted))

			var ev events.Event
			Expect(json.Unmarshal(h.publisher.Messages()[0].Data, &ev)).To(Succeed())
			Expect(ev.OrgID).To(Equal("org-1"))
			Expect(ev.Actor).NotTo(BeEmpty())
		})
	})
})
