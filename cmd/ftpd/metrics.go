package main

import (
	"log/slog"
	"net/http"

	"github.com/goftpd/ftpd/metrics/gometrics"
)

// startMetricsServer serves a single JSON snapshot of the collector's
// registry on every request to addr, in the background. It never blocks
// startup: a bind failure is logged, not fatal, since metrics are optional.
func startMetricsServer(addr string, collector *gometrics.Collector, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		collector.WriteJSON(w)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics_server_failed", "addr", addr, "error", err.Error())
		}
	}()
}
