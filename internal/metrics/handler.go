package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsHandler serves the JSON snapshot.
func (c *Collector) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.exporter.Registry, promhttp.HandlerOpts{})
}
