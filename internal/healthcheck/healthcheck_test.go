package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/forward-proxy/internal/healthcheck"
	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
)

var _ = Describe("Healthcheck", func() {
	var (
		ln     net.Listener
		u      *upstream.Upstream
		log    *slog.Logger
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())

		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() {
			for {
				c, err := ln.Accept()
				if err != nil {
					return
				}
				c.Close()
			}
		}()

		u = upstream.New(ln.Addr().String())
	})

	AfterEach(func() {
		cancel()
		ln.Close()
	})

	Describe("HealthCheck", func() {
		It("should mark a listening upstream as healthy", func() {
			u.SetHealthy(false)

			go healthcheck.HealthCheck(ctx, u, 50*time.Millisecond, log, nil)

			Eventually(u.IsHealthy).Should(BeTrue())
		})

		It("should mark a closed upstream as down and report it", func() {
			collector := metrics.NewCollector(10, log)
			collector.Start(ctx)
			Expect(ln.Close()).To(Succeed())

			go healthcheck.HealthCheck(ctx, u, 50*time.Millisecond, log, collector)

			Eventually(u.IsHealthy).Should(BeFalse())
			Eventually(func() int {
				return len(collector.Snapshot().Upstreams)
			}).Should(Equal(1))
			Expect(collector.Snapshot().Upstreams[u.Address()].Healthy).To(BeFalse())
		})

		It("should stop when context is cancelled", func() {
			done := make(chan struct{})
			go func() {
				healthcheck.HealthCheck(ctx, u, 50*time.Millisecond, log, nil)
				close(done)
			}()

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
