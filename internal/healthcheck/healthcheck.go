package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
)

const probeTimeout = 5 * time.Second

// HealthCheck dials the upstream every interval until ctx is done. Status
// transitions are logged and reported to the collector, which may be nil.
func HealthCheck(
	ctx context.Context,
	u *upstream.Upstream,
	interval time.Duration,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("upstream", u.Address()))
			return

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := u.Probe(probeCtx)
			cancel()

			healthy := err == nil
			if !u.SetHealthy(healthy) {
				continue
			}

			collector.Emit(metrics.MetricEvent{
				Type:     metrics.EventHealthChanged,
				Upstream: u.Address(),
				Healthy:  healthy,
			})

			if healthy {
				logger.Info("Upstream is back up",
					slog.String("upstream", u.Address()))
			} else {
				logger.Warn("Upstream is down",
					slog.String("upstream", u.Address()),
					slog.String("error", err.Error()))
			}
		}
	}
}
