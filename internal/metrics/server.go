package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health is the body of /health.
type Health struct {
	Status    string `json:"status"`
	Link      string `json:"link"` // "connected" or "disconnected"
	Peer      string `json:"peer,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Verified  bool   `json:"verified"`
	Uptime    string `json:"uptime"`
}

// HealthFunc reports the current link state.
type HealthFunc func() Health

// Handler serves /metrics from gatherer and /health from health.
func Handler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	started := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := Health{Link: "disconnected"}
		if health != nil {
			h = health()
		}
		h.Status = "ok"
		h.Uptime = time.Since(started).Round(time.Second).String()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[METRICS] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
