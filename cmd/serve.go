package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/metrics"
	"brokerage-mail-ingestor/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion cycles on the configured schedule and expose /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Metrics.Addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(a.registry))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				if err := a.store.Ping(r.Context()); err != nil {
					http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			})
			srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go func() {
				logging.Log.Infof("Serving metrics on %s", a.cfg.Metrics.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Log.Errorf("Metrics server error: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		sched := scheduler.New(a.cfg.Scheduler, a.ingestor.RunCycle)
		return sched.Run(ctx, a.cfg.Scheduler.Schedule)
	},
}
