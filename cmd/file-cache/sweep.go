package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfeidau/file-cache/backend"
	"github.com/wolfeidau/file-cache/expiry"
	"github.com/wolfeidau/file-cache/telemetry"
)

type SweepCmd struct {
	Interval       time.Duration `help:"How often to remove expired entries." default:"1h" env:"FILE_CACHE_SWEEP_INTERVAL"`
	MetricsAddress string        `help:"Address to serve Prometheus metrics on (empty disables)." env:"FILE_CACHE_METRICS_ADDRESS"`
	OTLPEndpoint   string        `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export (empty disables)." env:"FILE_CACHE_OTLP_ENDPOINT"`
}

func (c *SweepCmd) Run(g *Globals) error {
	fs, logger, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "file-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.MetricsAddress != "",
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()

	var srv *http.Server
	errCh := make(chan error, 1)
	if c.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		srv = &http.Server{
			Addr:              c.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("serving metrics", "address", c.MetricsAddress)
	}

	sweeper := expiry.NewSweeper(backend.NewInstrumentedCache(fs, "filesystem"), expiry.Config{
		Interval: c.Interval,
		Logger:   logger,
	})
	sweeper.Start(ctx)
	logger.Info("sweeper started", "root", fs.Root(), "interval", c.Interval)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		err = fmt.Errorf("metrics server: %w", err)
	}

	sweeper.Stop()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("metrics server shutdown", "error", shutdownErr)
		}
	}
	return err
}
