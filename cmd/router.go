package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
)

type healthResponse struct {
	Upstream     string        `json:"upstream"`
	Healthy      bool          `json:"healthy"`
	Circuit      string        `json:"circuit"`
	ActiveRelays int           `json:"active_relays"`
	EWMAExchange time.Duration `json:"ewma_exchange"`
}

// setupRouter exposes u on the admin routes; /stats and /metrics read its
// live state through the collector.
func setupRouter(metricsCollector *metrics.Collector, u *upstream.Upstream) *http.ServeMux {
	metricsCollector.TrackUpstream(u)

	mux := http.NewServeMux()

	mux.Handle("/metrics", metricsCollector.PrometheusHandler())
	mux.HandleFunc("/stats", metricsCollector.StatsHandler())
	mux.HandleFunc("/health", healthHandler(u))

	return mux
}

func healthHandler(u *upstream.Upstream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Upstream:     u.Address(),
			Healthy:      u.IsHealthy(),
			Circuit:      u.Breaker().State().String(),
			ActiveRelays: u.ActiveConnections(),
			EWMAExchange: u.EWMATime(),
		}

		status := http.StatusOK
		if !resp.Healthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
