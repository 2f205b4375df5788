package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/forward-proxy/config"
	"github.com/angeloszaimis/forward-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/forward-proxy/internal/healthcheck"
	"github.com/angeloszaimis/forward-proxy/internal/httpserver"
	"github.com/angeloszaimis/forward-proxy/internal/listener"
	"github.com/angeloszaimis/forward-proxy/internal/metrics"
	"github.com/angeloszaimis/forward-proxy/internal/relay"
	"github.com/angeloszaimis/forward-proxy/internal/upstream"
	"github.com/angeloszaimis/forward-proxy/pkg/logger"
)

const (
	metricsBufferSize = 1024
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("proxy stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. A listener that fails to bind is logged
// and the process keeps waiting for a signal with no proxy socket.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(ctx)

	u := newUpstream(cfg)
	r := relay.NewRelay(log, u, cfg.Proxy.Name, collector)

	l, err := listener.New(cfg.Server.Addr(), r, log)
	if err != nil {
		return err
	}

	var admin *httpserver.Server
	if cfg.Metrics.Address != "" {
		admin, err = httpserver.New(cfg.Metrics.Address, setupRouter(collector, u))
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HealthCheck.Enabled {
		g.Go(func() error {
			healthcheck.HealthCheck(ctx, u, cfg.HealthCheck.IntervalDuration(), log, collector)
			return nil
		})
	}

	if err := l.Bind(); err != nil {
		if errors.Is(err, listener.ErrAddressInUse) {
			log.Warn("proxy listener unavailable, waiting for shutdown", slog.String("address", cfg.Server.Addr()))
		} else {
			log.Warn("proxy listener failed, waiting for shutdown", slog.Any("err", err))
		}
	} else {
		g.Go(func() error {
			return l.Serve(ctx)
		})
	}

	if admin != nil {
		g.Go(func() error {
			log.Info("admin server listening", slog.String("address", cfg.Metrics.Address))
			return admin.Start()
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				log.Error("Error during admin shutdown", slog.Any("err", err))
			}
		}
		if err := l.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		return nil
	})

	return g.Wait()
}

func newUpstream(cfg *config.Config) *upstream.Upstream {
	breaker := circuitbreaker.New(cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.ResetTimeoutDuration())
	return upstream.New(cfg.Upstream.Addr(), upstream.WithBreaker(breaker))
}
