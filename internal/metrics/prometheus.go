package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Histogram buckets for a full client exchange, connect to last byte.
var exchangeBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Exporter mirrors collector events into a private Prometheus registry.
type Exporter struct {
	Registry *prometheus.Registry

	ConnectionsTotal  *prometheus.CounterVec
	ResponsesTotal    *prometheus.CounterVec
	FailuresTotal     *prometheus.CounterVec
	BytesRelayedTotal *prometheus.CounterVec
	ExchangeDuration  *prometheus.HistogramVec
	UpstreamUp        *prometheus.GaugeVec
}

func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := &Exporter{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_connections_total",
			Help: "Client connections accepted.",
		}, []string{"upstream"}),

		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_responses_total",
			Help: "Responses relayed to clients by upstream status code.",
		}, []string{"upstream", "status_code"}),

		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_upstream_failures_total",
			Help: "Exchanges abandoned because of an upstream fault.",
		}, []string{"upstream", "reason"}),

		BytesRelayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_bytes_relayed_total",
			Help: "Response bytes written to clients.",
		}, []string{"upstream"}),

		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forward_proxy_exchange_duration_seconds",
			Help:    "Time from upstream dial to the last byte written to the client.",
			Buckets: exchangeBuckets,
		}, []string{"upstream"}),

		UpstreamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forward_proxy_upstream_up",
			Help: "1 when the last health probe succeeded.",
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		e.ConnectionsTotal,
		e.ResponsesTotal,
		e.FailuresTotal,
		e.BytesRelayedTotal,
		e.ExchangeDuration,
		e.UpstreamUp,
	)

	return e
}

// Observe applies one event to the Prometheus collectors.
func (e *Exporter) Observe(event MetricEvent) {
	switch event.Type {
	case EventConnectionAccepted:
		e.ConnectionsTotal.WithLabelValues(event.Upstream).Inc()

	case EventResponseRelayed:
		e.ResponsesTotal.WithLabelValues(event.Upstream, statusLabel(event.StatusCode)).Inc()
		e.BytesRelayedTotal.WithLabelValues(event.Upstream).Add(float64(event.Bytes))
		e.ExchangeDuration.WithLabelValues(event.Upstream).Observe(event.Duration.Seconds())

	case EventUpstreamFailed:
		e.FailuresTotal.WithLabelValues(event.Upstream, event.Reason).Inc()

	case EventHealthChanged:
		up := 0.0
		if event.Healthy {
			up = 1
		}
		e.UpstreamUp.WithLabelValues(event.Upstream).Set(up)
	}
}

// Track registers scrape-time gauges for u and sets its up gauge from the
// current health.
func (e *Exporter) Track(u UpstreamState) {
	labels := prometheus.Labels{"upstream": u.Address()}

	for _, g := range []prometheus.GaugeFunc{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "forward_proxy_active_relays",
			Help:        "Relays currently holding an upstream connection.",
			ConstLabels: labels,
		}, func() float64 { return float64(u.ActiveConnections()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "forward_proxy_exchange_ewma_seconds",
			Help:        "Exponentially weighted moving average of exchange time.",
			ConstLabels: labels,
		}, func() float64 { return u.EWMATime().Seconds() }),
	} {
		if err := e.Registry.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}

	e.Observe(MetricEvent{Type: EventHealthChanged, Upstream: u.Address(), Healthy: u.IsHealthy()})
}

// statusLabel keeps label cardinality bounded: anything that is not a
// three-digit code collapses into "other".
func statusLabel(code string) string {
	if len(code) != 3 {
		return "other"
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "other"
		}
	}
	return code
}
