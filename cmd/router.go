package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/http-load-balancer/config"
	"github.com/angeloszaimis/http-load-balancer/internal/metrics"
	"github.com/angeloszaimis/http-load-balancer/internal/middleware"
	"github.com/angeloszaimis/http-load-balancer/internal/registry"
)

type statusResponse struct {
	Policy   string                  `json:"policy"`
	Healthy  int                     `json:"healthy"`
	Total    int                     `json:"total"`
	Backends []registry.BackendStats `json:"backends"`
}

// setupProxyHandler wraps the proxy handler with the middleware stack of the
// proxied listener. Every path on that listener is forwarded.
func setupProxyHandler(proxy http.Handler, rl config.RateLimitConfig, collector *metrics.Collector, log *slog.Logger) http.Handler {
	middlewares := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Logger(log),
	}

	if rl.Enabled() {
		limiter := middleware.NewLimiter(rl.RequestsPerSecond, rl.Burst)
		middlewares = append(middlewares, middleware.RateLimit(limiter, func(r *http.Request) {
			log.Warn("Request rejected by rate limit",
				slog.String("client", middleware.ClientIP(r)),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())))
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRateLimited})
		}))
	}

	return middleware.Chain(proxy, middlewares...)
}

func setupAdminRouter(reg *registry.Registry, metricsCollector *metrics.Collector, policy string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("PONG"))
	})
	mux.Handle("GET /metrics", metricsCollector.Handler())
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		stats := reg.Stats()

		healthy := 0
		for _, s := range stats {
			if s.Status.IsHealthy() {
				healthy++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{
			Policy:   policy,
			Healthy:  healthy,
			Total:    len(stats),
			Backends: stats,
		})
	})

	return mux
}
