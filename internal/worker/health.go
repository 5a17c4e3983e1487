package worker

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves / with 200 while the worker is registered and 503
// otherwise, and the expvar metrics on /metrics.
func (w *Worker) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if !w.Registered() {
			http.Error(rw, "not registered", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(rw, "OK %d/%d jobs\n", w.ActiveJobs(), w.cfg.MaxJobs)
	})
	mux.Handle("/metrics", expvar.Handler())
	return mux
}

// ServeHealth runs the health endpoint on addr until ctx is cancelled.
func (w *Worker) ServeHealth(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           w.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	w.logger.Info("Health endpoint listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
