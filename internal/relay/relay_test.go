package relay_test

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/forward-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/relay"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
)

const proxyName = "Simple HTTP Proxy"

var _ = Describe("Relay", func() {
	const request = "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"

	Context("when the upstream declares a Content-Length", func() {
		var (
			fake    *fakeUpstream
			results <-chan error
			addr    string
		)

		BeforeEach(func() {
			fake = startUpstream(respondAndWait("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
			r := relay.NewRelay(discardLogger, upstream.New(fake.Addr()), proxyName, nil)
			addr, results = serveRelay(r)
		})

		It("should relay the response with the proxy header", func() {
			out := roundTrip(addr, request)
			Expect(out).To(Equal("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-Proxy-Name: Simple HTTP Proxy\r\n\r\nhello"))
			Eventually(results).Should(Receive(BeNil()))
		})

		It("should forward the request bytes unchanged", func() {
			roundTrip(addr, request)
			Eventually(fake.requests).Should(Receive(Equal([]byte(request))))
		})

		It("should forward odd request bytes unchanged", func() {
			odd := "POST /x HTTP/1.0\r\nweird header\r\nHost:  spaced  \r\n\r\nbody\r\n\r\nmore"
			roundTrip(addr, odd)
			Eventually(fake.requests).Should(Receive(Equal([]byte(odd))))
		})
	})

	Context("when the response arrives in several chunks", func() {
		It("should assemble the whole body", func() {
			fake := startUpstream(func(conn net.Conn, _ []byte) {
				for _, chunk := range []string{"HTTP/1.1 200 OK\r\nConte", "nt-Length: 11\r\n\r\nhello", " world"} {
					conn.Write([]byte(chunk))
					time.Sleep(20 * time.Millisecond)
				}
				io.Copy(io.Discard, conn)
			})
			addr, _ := serveRelay(relay.NewRelay(discardLogger, upstream.New(fake.Addr()), proxyName, nil))

			out := roundTrip(addr, request)
			Expect(out).To(HaveSuffix("X-Proxy-Name: Simple HTTP Proxy\r\n\r\nhello world"))
			Expect(out).To(HavePrefix("HTTP/1.1 200 OK\r\nContent-Length: 11\r\n"))
		})
	})

	Context("when the upstream omits Content-Length", func() {
		It("should wait for the upstream to close before answering", func() {
			release := make(chan struct{})
			fake := startUpstream(func(conn net.Conn, _ []byte) {
				conn.Write([]byte("HTTP/1.0 200 OK\r\nServer: fixture\r\n\r\nstreamed body"))
				<-release
			})
			addr, _ := serveRelay(relay.NewRelay(discardLogger, upstream.New(fake.Addr()), proxyName, nil))

			conn, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			_, err = conn.Write([]byte(request))
			Expect(err).NotTo(HaveOccurred())

			Expect(conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))).To(Succeed())
			buf := make([]byte, 1)
			_, err = conn.Read(buf)
			var netErr net.Error
			Expect(errors.As(err, &netErr)).To(BeTrue())
			Expect(netErr.Timeout()).To(BeTrue())

			close(release)

			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			out, err := io.ReadAll(conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal("HTTP/1.0 200 OK\r\nServer: fixture\r\nX-Proxy-Name: Simple HTTP Proxy\r\n\r\nstreamed body"))
		})
	})

	Context("when the upstream sets its own X-Proxy-Name", func() {
		It("should overwrite it in place", func() {
			fake := startUpstream(respondAndClose("HTTP/1.1 204 No Content\r\nX-Proxy-Name: inner\r\nServer: s\r\n\r\n"))
			addr, _ := serveRelay(relay.NewRelay(discardLogger, upstream.New(fake.Addr()), "edge", nil))

			out := roundTrip(addr, request)
			Expect(out).To(Equal("HTTP/1.1 204 No Content\r\nX-Proxy-Name: edge\r\nServer: s\r\n\r\n"))
		})
	})

	Context("when the upstream is unreachable", func() {
		It("should drop the client without a response", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			deadAddr := ln.Addr().String()
			ln.Close()

			addr, results := serveRelay(relay.NewRelay(discardLogger, upstream.New(deadAddr), proxyName, nil))

			Expect(roundTrip(addr, request)).To(BeEmpty())

			var relayErr error
			Eventually(results).Should(Receive(&relayErr))
			Expect(relayErr).To(MatchError(ContainSubstring("connect upstream")))
		})
	})

	Context("when the circuit breaker is open", func() {
		It("should not dial and report the open circuit", func() {
			dials := make(chan struct{}, 10)
			failing := transport.FuncStreamDialer(func(ctx context.Context, addr string) (transport.StreamConn, error) {
				dials <- struct{}{}
				return nil, errors.New("refused")
			})
			u := upstream.New("127.0.0.1:1",
				upstream.WithDialer(failing),
				upstream.WithBreaker(circuitbreaker.New(1, time.Hour)))

			collector := metrics.NewCollector(10, discardLogger)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector.Start(ctx)

			addr, results := serveRelay(relay.NewRelay(discardLogger, u, proxyName, collector))

			roundTrip(addr, request)
			Eventually(results).Should(Receive(HaveOccurred()))

			roundTrip(addr, request)
			var err error
			Eventually(results).Should(Receive(&err))
			Expect(errors.Is(err, upstream.ErrCircuitOpen)).To(BeTrue())
			Expect(dials).To(HaveLen(1))

			Eventually(func() int64 {
				return collector.Snapshot().Upstreams["127.0.0.1:1"].Failures
			}).Should(Equal(int64(2)))
		})
	})

	Context("when the client hangs up without a request", func() {
		It("should return without dialing", func() {
			fake := startUpstream(respondAndClose("HTTP/1.1 200 OK\r\n\r\n"))
			addr, results := serveRelay(relay.NewRelay(discardLogger, upstream.New(fake.Addr()), proxyName, nil))

			conn, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())
			conn.Close()

			Eventually(results).Should(Receive(BeNil()))
			Consistently(fake.requests, 100*time.Millisecond).ShouldNot(Receive())
		})
	})

	Context("with metrics", func() {
		It("should record the relayed response", func() {
			fake := startUpstream(respondAndWait("HTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok"))
			u := upstream.New(fake.Addr())

			collector := metrics.NewCollector(10, discardLogger)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector.Start(ctx)

			addr, results := serveRelay(relay.NewRelay(discardLogger, u, proxyName, collector))
			roundTrip(addr, request)
			Eventually(results).Should(Receive(BeNil()))

			Eventually(func() int64 {
				return collector.Snapshot().Upstreams[fake.Addr()].StatusCodes["201"]
			}).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Upstreams[fake.Addr()].Connections).To(Equal(int64(1)))
			Expect(u.ActiveConnections()).To(Equal(0))
			Expect(u.EWMATime()).To(BeNumerically(">", 0))
		})
	})

	Context("when the client is gone before the response is written", func() {
		It("should not charge the failure to the upstream", func() {
			fake := startUpstream(respondAndWait("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
			u := upstream.New(fake.Addr())

			collector := metrics.NewCollector(10, discardLogger)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector.Start(ctx)

			proxySide, clientSide := net.Pipe()
			results := make(chan error, 1)
			go func() {
				results <- relay.NewRelay(discardLogger, u, proxyName, collector).Handle(context.Background(), proxySide)
			}()

			_, err := clientSide.Write([]byte(request))
			Expect(err).NotTo(HaveOccurred())
			Expect(clientSide.Close()).To(Succeed())

			var relayErr error
			Eventually(results).Should(Receive(&relayErr))
			Expect(relayErr).To(MatchError(ContainSubstring("write response")))

			Eventually(func() int64 {
				return collector.Snapshot().Upstreams[fake.Addr()].Connections
			}).Should(Equal(int64(1)))
			Consistently(func() int64 {
				return collector.Snapshot().Upstreams[fake.Addr()].Failures
			}, 100*time.Millisecond).Should(BeZero())
			Expect(collector.Snapshot().Upstreams[fake.Addr()].Responses).To(BeZero())
			Expect(u.Breaker().Failures()).To(BeZero())
		})
	})

	Context("with two clients at once", func() {
		It("should give each client its own response", func() {
			gate := make(chan struct{})
			slow := startUpstream(func(conn net.Conn, _ []byte) {
				<-gate
				conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nfirst"))
				io.Copy(io.Discard, conn)
			})
			fast := startUpstream(respondAndWait("HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nsecond"))

			slowAddr, _ := serveRelay(relay.NewRelay(discardLogger, upstream.New(slow.Addr()), proxyName, nil))
			fastAddr, _ := serveRelay(relay.NewRelay(discardLogger, upstream.New(fast.Addr()), proxyName, nil))

			slowOut := make(chan string, 1)
			go func() {
				defer GinkgoRecover()
				slowOut <- roundTrip(slowAddr, request)
			}()

			Expect(roundTrip(fastAddr, request)).To(HaveSuffix("\r\n\r\nsecond"))
			close(gate)
			Eventually(slowOut).Should(Receive(HaveSuffix("\r\n\r\nfirst")))
		})
	})
})

var _ = Describe("State", func() {
	It("should name every state", func() {
		Expect(relay.StateAwaitingRequest.String()).To(Equal("AwaitingRequest"))
		Expect(relay.StateConnectingUpstream.String()).To(Equal("ConnectingUpstream"))
		Expect(relay.StateAwaitingResponse.String()).To(Equal("AwaitingResponse"))
		Expect(relay.StateDone.String()).To(Equal("Done"))
		Expect(relay.State(9).String()).To(Equal("Unknown"))
	})
})
