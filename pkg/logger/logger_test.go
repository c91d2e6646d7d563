package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("should create a logger from a nil config", func() {
			Expect(logger.New(nil)).NotTo(BeNil())
		})

		It("should fall back to stdout when output is unset", func() {
			Expect(logger.New(&logger.Config{Level: slog.LevelDebug})).NotTo(BeNil())
		})
	})

	Describe("ParseLevel", func() {
		DescribeTable("should parse level strings",
			func(input string, expected slog.Level) {
				Expect(logger.ParseLevel(input)).To(Equal(expected))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("upper case", "DEBUG", slog.LevelDebug),
			Entry("padded", " warn ", slog.LevelWarn),
			Entry("warning", "warning", slog.LevelWarn),
			Entry("error", "Error", slog.LevelError),
			Entry("invalid defaults to info", "verbose", slog.LevelInfo),
			Entry("empty defaults to info", "", slog.LevelInfo),
		)
	})

	Describe("output", func() {
		var (
			buf *bytes.Buffer
			log *slog.Logger
		)

		BeforeEach(func() {
			buf = &bytes.Buffer{}
			log = logger.New(&logger.Config{Level: slog.LevelInfo, Output: buf})
		})

		It("should write one JSON object per record", func() {
			log.Info("request completed", "status", 200)

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("msg", "request completed"))
			Expect(entry).To(HaveKeyWithValue("status", float64(200)))
			Expect(entry).To(HaveKey("time"))
			Expect(entry).To(HaveKey("level"))
		})

		It("should filter records below the level", func() {
			log.Debug("noise")
			Expect(strings.TrimSpace(buf.String())).To(BeEmpty())
		})

		It("should carry fields added with WithContext", func() {
			logger.WithContext(log, slog.String("tenant", "org-1")).Info("x")

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("tenant", "org-1"))
		})
	})

	Describe("context propagation", func() {
		It("should return the stored logger", func() {
			buf := &bytes.Buffer{}
			stored := logger.New(&logger.Config{Output: buf})
			ctx := logger.IntoContext(context.Background(), stored)

			logger.FromContext(ctx, logger.Discard()).Info("hello")
			Expect(buf.String()).To(ContainSubstring("hello"))
		})

		It("should return the fallback when nothing is stored", func() {
			fallback := logger.Discard()
			Expect(logger.FromContext(context.Background(), fallback)).To(BeIdenticalTo(fallback))
		})

		It("should return slog.Default without a fallback", func() {
			Expect(logger.FromContext(context.Background(), nil)).To(BeIdenticalTo(slog.Default()))
		})
	})

	Describe("Discard", func() {
		It("should swallow error records", func() {
			log := logger.Discard()
			Expect(log.Enabled(context.Background(), slog.LevelError)).To(BeFalse())
		})
	})
})
