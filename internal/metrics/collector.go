package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventConnectionAccepted EventType = "connection_accepted"
	EventResponseRelayed    EventType = "response_relayed"
	EventUpstreamFailed     EventType = "upstream_failed"
	EventHealthChanged      EventType = "health_changed"
)

// Failure reasons carried by EventUpstreamFailed.
const (
	ReasonDial        = "dial"
	ReasonCircuitOpen = "circuit_open"
	ReasonTransport   = "transport"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Upstream   string
	Duration   time.Duration
	StatusCode string
	Bytes      int
	Reason     string
	Healthy    bool
}

// UpstreamState is the live state of an upstream, read at snapshot and
// scrape time rather than carried by events.
type UpstreamState interface {
	Address() string
	IsHealthy() bool
	ActiveConnections() int
	EWMATime() time.Duration
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Exporter
	logger   *slog.Logger

	mutex   sync.RWMutex
	tracked map[string]UpstreamState
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		exporter: NewExporter(),
		logger:   logger,
		tracked:  make(map[string]UpstreamState),
	}
}

// TrackUpstream publishes u's current health and exposes its active relay
// count and EWMA exchange time. Tracking the same address twice is a no-op.
func (c *Collector) TrackUpstream(u UpstreamState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.tracked[u.Address()]; ok {
		return
	}
	c.tracked[u.Address()] = u

	c.metrics.UpdateHealthStatus(u.Address(), u.IsHealthy())
	c.exporter.Track(u)
}

// Emit queues event without blocking. A nil collector discards everything,
// which lets callers skip metrics wiring in tests.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	c.exporter.Observe(event)

	switch event.Type {
	case EventConnectionAccepted:
		c.metrics.IncrementConnections(event.Upstream)

	case EventResponseRelayed:
		c.metrics.RecordResponse(event.Upstream, event.Duration, event.StatusCode, event.Bytes)

	case EventUpstreamFailed:
		c.metrics.RecordFailure(event.Upstream)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Upstream, event.Healthy)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

// Snapshot returns the aggregated metrics with the live state of every
// tracked upstream filled in.
func (c *Collector) Snapshot() Snapshot {
	snap := c.metrics.Snapshot()

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for addr, u := range c.tracked {
		um, ok := snap.Upstreams[addr]
		if !ok {
			um.StatusCodes = map[string]int64{}
		}
		um.Healthy = u.IsHealthy()
		um.ActiveRelays = u.ActiveConnections()
		um.EWMAExchange = u.EWMATime()
		snap.Upstreams[addr] = um
	}

	return snap
}

// Exporter returns the Prometheus side of the collector.
func (c *Collector) Exporter() *Exporter {
	return c.exporter
}
