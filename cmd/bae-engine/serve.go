package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/kenneth/bae-engine/internal/metrics"
	"github.com/kenneth/bae-engine/internal/middleware"
)

// readinessChecks builds one named ReadinessCheck per long-lived shared
// resource spec.md §9 names (Catalog, ObjectStore, ChunkCache), so /ready
// reports this engine's own dependencies instead of a vestigial, unrelated
// external hook.
func readinessChecks(res *resources) map[string]metrics.ReadinessCheck {
	return map[string]metrics.ReadinessCheck{
		"catalog":     func(ctx context.Context) error { return res.catalog.Ping(ctx) },
		"objectstore": func(ctx context.Context) error { return res.store.Ping(ctx) },
		"chunkcache":  func(ctx context.Context) error { return res.cache.Ping() },
	}
}

// newServeCmd starts the engine as a long-running process: it opens every
// shared resource (Catalog, ObjectStore, ChunkCache, ChunkCodec) and
// exposes health/readiness/metrics endpoints over HTTP, the same ambient
// surface the teacher gateway exposes for its own process. The Subsonic
// API and UI spec.md §1 treats as external collaborators are not served
// here; this is the process host for the core engine only.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived process exposing health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := buildResources(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer res.Close()

			stop := make(chan struct{})
			res.metrics.StartSystemMetricsCollector(stop)
			defer close(stop)

			router := mux.NewRouter()
			router.Use(middleware.RecoveryMiddleware(log))
			router.Use(middleware.LoggingMiddleware(log))
			router.HandleFunc("/health", metrics.HealthHandler())
			router.HandleFunc("/ready", metrics.ReadinessHandler(readinessChecks(res)))
			router.HandleFunc("/live", metrics.LivenessHandler())
			router.Handle("/metrics", res.metrics.Handler())

			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", addr).Info("bae-engine listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case sig := <-sigCh:
				log.WithField("signal", sig.String()).Info("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address for health and metrics endpoints")
	return cmd
}
