package startup

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
)

// MetricsRouter serves /health and /metrics. /health answers 503 while online reports false.
func MetricsRouter(secret string, online func() bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.NoCache)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if online != nil && !online() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("offline"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(secret)).Handle("/metrics", promhttp.Handler())
	return r
}

// ServeMetrics starts the metrics server in the background. Shut it down with srv.Shutdown.
func ServeMetrics(addr, secret string, online func() bool) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      MetricsRouter(secret, online),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}
