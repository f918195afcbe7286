package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/internal/observability"
)

// buildServeCmd builds the "serve" command: load configuration, wire
// the full stack, start the metrics/health listener and the cron
// scheduler, then block until a shutdown signal arrives.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the entity orchestration runtime",
		Long: `Start cortexd: load the pathway registry, connect hot and cold memory,
and serve health/metrics while the cron scheduler drives periodic
deep synthesis in the background.

This command hosts no transport of its own — GraphQL/REST/WebSocket
surfaces are out of scope for this core and live in a separate
process that calls into the wired stack.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cortexd.yaml", "path to the configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.Default()
	logger.Info("configuration loaded",
		"entity_store_driver", cfg.EntityStore.Driver,
		"cold_memory_backend", cfg.ColdMemory.Backend,
		"pathways_dir", cfg.Pathways.Dir,
		"cron_enabled", cfg.Cron.Enabled,
	)

	stack, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.TraceSampling,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("error shutting down tracer", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", traced(tracer, stack.metrics, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/metrics", promhttp.Handler())

	metricsAddr := cfg.Server.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("metrics/health listener starting", "addr", metricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	if cfg.Pathways.HotReload {
		go func() {
			if err := stack.pathways.Watch(ctx, 500*time.Millisecond); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("pathway hot-reload watcher stopped", "error", err)
			}
		}()
	}

	if stack.scheduler != nil {
		go func() {
			if err := stack.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("cron scheduler: %w", err)
			}
		}()
	}

	logger.Info("cortexd started")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if stack.scheduler != nil {
		if err := stack.scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping cron scheduler", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down metrics listener", "error", err)
	}

	logger.Info("cortexd stopped")
	return nil
}

// traced wraps an admin HTTP handler with a trace span and a request
// duration observation, the same pairing the turn executor and
// synthesizer report through diagnostic events for the request path.
func traced(tracer *observability.Tracer, metrics *observability.Metrics, path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, path)
		defer span.End()

		started := time.Now()
		next(w, r.WithContext(ctx))
		metrics.RecordHTTPRequest(r.Method, path, "200", time.Since(started).Seconds())
	}
}
