package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/google/uuid"

	"github.com/angeloszaimis/forward-proxy/internal/message"
	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/transform"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
)

const readBufferSize = 32 * 1024

// Relay forwards client connections to one upstream. It holds no per
// connection state and is safe to share between goroutines.
type Relay struct {
	logger           *slog.Logger
	upstream         *upstream.Upstream
	proxyName        string
	metricsCollector *metrics.Collector
}

func NewRelay(logger *slog.Logger, u *upstream.Upstream, proxyName string, collector *metrics.Collector) *Relay {
	return &Relay{
		logger:           logger,
		upstream:         u,
		proxyName:        proxyName,
		metricsCollector: collector,
	}
}

// exchange is the state owned by a single client connection.
type exchange struct {
	id     string
	state  State
	client net.Conn
	conn   transport.StreamConn
	framer message.Framer
	logger *slog.Logger
}

// Handle serves one client connection and closes it before returning. The
// returned error describes why an exchange was abandoned; a client that hangs
// up without sending anything is not an error.
func (r *Relay) Handle(ctx context.Context, client net.Conn) error {
	ex := &exchange{
		id:     uuid.NewString(),
		state:  StateAwaitingRequest,
		client: client,
	}
	ex.logger = r.logger.With(
		slog.String("conn_id", ex.id),
		slog.String("client", client.RemoteAddr().String()))

	defer client.Close()

	r.emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})

	request, err := ex.awaitRequest()
	if err != nil || request == nil {
		return err
	}

	r.upstream.IncrementConn()
	defer r.upstream.DecrementConn()
	start := time.Now()

	if err := r.connectUpstream(ctx, ex, request); err != nil {
		return err
	}
	defer ex.conn.Close()

	if err := r.awaitResponse(ex); err != nil {
		return err
	}

	return r.finish(ex, start)
}

func (ex *exchange) transition(next State) {
	ex.logger.Debug("relay state changed",
		slog.String("from", ex.state.String()),
		slog.String("to", next.String()))
	ex.state = next
}

// awaitRequest takes the first non-empty chunk as the complete request.
func (ex *exchange) awaitRequest() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := ex.client.Read(buf)
		if n > 0 {
			request := buf[:n]
			req := message.Parse(request)
			ex.logger.Info("request received",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("bytes", n))
			ex.transition(StateConnectingUpstream)
			return request, nil
		}
		if errors.Is(err, io.EOF) {
			ex.logger.Info("client closed before sending a request")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
	}
}

func (r *Relay) connectUpstream(ctx context.Context, ex *exchange, request []byte) error {
	conn, err := r.upstream.Dial(ctx)
	if err != nil {
		reason := metrics.ReasonDial
		if errors.Is(err, upstream.ErrCircuitOpen) {
			reason = metrics.ReasonCircuitOpen
		}
		r.emit(metrics.MetricEvent{Type: metrics.EventUpstreamFailed, Reason: reason})
		return fmt.Errorf("connect upstream: %w", err)
	}
	ex.conn = conn

	ex.logger.Info("connection established with upstream",
		slog.String("upstream", conn.RemoteAddr().String()),
		slog.String("local", conn.LocalAddr().String()))

	if _, err := conn.Write(request); err != nil {
		conn.Close()
		r.emit(metrics.MetricEvent{Type: metrics.EventUpstreamFailed, Reason: metrics.ReasonTransport})
		return fmt.Errorf("forward request: %w", err)
	}

	ex.transition(StateAwaitingResponse)
	return nil
}

// awaitResponse reads until the upstream closes. Once the declared length is
// reached the write side is closed so the upstream knows no further request
// is coming.
func (r *Relay) awaitResponse(ex *exchange) error {
	buf := make([]byte, readBufferSize)
	halfClosed := false

	for {
		n, err := ex.conn.Read(buf)
		if n > 0 {
			ex.framer.Write(buf[:n])

			if !halfClosed && ex.framer.Complete() {
				declared, _ := ex.framer.DeclaredLength()
				ex.logger.Debug("response complete, closing upstream write side",
					slog.Int("content_length", declared),
					slog.Int("buffered", ex.framer.Len()))
				if err := ex.conn.CloseWrite(); err != nil {
					ex.logger.Debug("close write failed", slog.String("error", err.Error()))
				}
				halfClosed = true
			}
		}
		if errors.Is(err, io.EOF) {
			ex.transition(StateDone)
			return nil
		}
		if err != nil {
			r.emit(metrics.MetricEvent{Type: metrics.EventUpstreamFailed, Reason: metrics.ReasonTransport})
			return fmt.Errorf("read response: %w", err)
		}
	}
}

// finish assembles the response and writes it to the client in three pieces.
func (r *Relay) finish(ex *exchange, start time.Time) error {
	resp := message.Parse(ex.framer.Bytes())
	headers := transform.AddProxyHeader(resp.Headers, r.proxyName)
	wire := message.Encode(resp.StatusLine, headers, resp.Body)

	for _, piece := range [][]byte{wire.StatusLine, wire.HeaderBlock, wire.Body} {
		if _, err := ex.client.Write(piece); err != nil {
			// The upstream did its part; a client that went away is not its failure.
			return fmt.Errorf("write response: %w", err)
		}
	}
	ex.client.Close()

	duration := time.Since(start)
	r.upstream.RecordExchange(duration)
	r.emit(metrics.MetricEvent{
		Type:       metrics.EventResponseRelayed,
		Duration:   duration,
		StatusCode: resp.StatusCode,
		Bytes:      wire.Len(),
	})

	ex.logger.Info("sent proxied response to client",
		slog.String("status", resp.StatusCode),
		slog.Int("bytes", wire.Len()),
		slog.Duration("duration", duration))
	ex.logger.Info("upstream connection closed",
		slog.String("upstream", r.upstream.Address()))

	return nil
}

func (r *Relay) emit(event metrics.MetricEvent) {
	event.Upstream = r.upstream.Address()
	r.metricsCollector.Emit(event)
}
