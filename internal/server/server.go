package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/metrics"
)

// RunHTTPServer starts the HTTP server for metrics, health checks, and pprof.
// destConn is nil for the sheet destination; readiness then only covers the
// state store.
func RunHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	metricsStore *metrics.Store,
	stateConn *db.Connector,
	destConn *db.Connector,
	logger *zap.Logger,
) {
	log := logger.Named("http-server")
	mux := http.NewServeMux()

	// Metrics endpoint using the custom registry
	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	// Liveness endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Readiness endpoint
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var stateErr, destErr error
		var wg sync.WaitGroup

		if stateConn != nil {
			wg.Add(1)
			go func() { defer wg.Done(); stateErr = stateConn.Ping(pingCtx) }()
		} else {
			stateErr = fmt.Errorf("state store connection not established")
		}

		if destConn != nil {
			wg.Add(1)
			go func() { defer wg.Done(); destErr = destConn.Ping(pingCtx) }()
		}

		wg.Wait()

		if stateErr == nil && destErr == nil {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "Ready")
		} else {
			log.Warn("Readiness check failed",
				zap.NamedError("state_ping_error", stateErr),
				zap.NamedError("dest_ping_error", destErr))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "Not Ready: state_db_status=%v, destination_db_status=%v\n",
				formatPingError(stateErr), formatPingError(destErr))
		}
	})

	// Pprof endpoints (conditionally enabled)
	if cfg.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Pprof endpoints are disabled.")
	}

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run server in a goroutine so it doesn't block the sync process
	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
		log.Info("HTTP server stopped listening")
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server due to context cancellation...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}

// formatPingError provides a user-friendly status string.
func formatPingError(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
