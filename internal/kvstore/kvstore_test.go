package kvstore_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/iot-dashboard/internal/kvstore"
	"procodus.dev/iot-dashboard/pkg/logger"
)

var _ = Describe("Open", func() {
	It("should reject an empty address", func() {
		_, err := kvstore.Open(context.Background(), kvstore.Config{Logger: logger.Discard()})
		Expect(err).To(MatchError(ContainSubstring("address")))
	})

	It("should reject a nil logger", func() {
		_, err := kvstore.Open(context.Background(), kvstore.Config{Addr: "localhost:6379"})
		Expect(err).To(MatchError(ContainSubstring("logger")))
	})

	It("should connect to a live store", func() {
		mr := miniredis.RunT(GinkgoT())
		client, err := kvstore.Open(context.Background(), kvstore.Config{
			Addr:   mr.Addr(),
			Logger: logger.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		Expect(kvstore.Healthy(context.Background(), client, time.Second)).To(BeTrue())
	})

	It("should still return a client when the store is down", func() {
		mr := miniredis.RunT(GinkgoT())
		addr := mr.Addr()
		mr.Close()

		client, err := kvstore.Open(context.Background(), kvstore.Config{
			Addr:    addr,
			Timeout: 200 * time.Millisecond,
			Logger:  logger.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		Expect(kvstore.Healthy(context.Background(), client, 200*time.Millisecond)).To(BeFalse())
	})

	It("should treat a nil client as unhealthy", func() {
		Expect(kvstore.Healthy(context.Background(), nil, 0)).To(BeFalse())
	})
})
