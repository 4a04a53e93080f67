package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
	"github.com/angeloszaimis/http-load-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/http-load-balancer/internal/metrics"
	"github.com/angeloszaimis/http-load-balancer/internal/middleware"
)

const DefaultTimeout = 30 * time.Second

type Option func(*ProxyHandler)

// WithTimeout bounds every forwarded request, including streaming the
// response back. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(h *ProxyHandler) {
		h.timeout = timeout
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(h *ProxyHandler) {
		h.metricsCollector = collector
	}
}

type ProxyHandler struct {
	logger           *slog.Logger
	balancer         *loadbalancer.LoadBalancer
	proxy            *httputil.ReverseProxy
	timeout          time.Duration
	metricsCollector *metrics.Collector
}

// attempt tracks one forwarding attempt through the shared reverse proxy.
type attempt struct {
	target     *backend.Backend
	statusCode int
	failed     bool
}

type attemptKey struct{}

func NewProxyHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, opts ...Option) *ProxyHandler {
	h := &ProxyHandler{
		logger:   logger,
		balancer: lb,
		timeout:  DefaultTimeout,
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      newTransport(),
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.errorHandler,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.ClientIP(r)
	requestID := middleware.RequestIDFromContext(r.Context())

	target, err := h.balancer.Next()
	if err != nil {
		h.logger.Warn("No healthy backends available",
			slog.String("client", clientIP),
			slog.String("request_id", requestID))
		h.metricsCollector.Emit(metrics.MetricEvent{Type: metrics.EventNoHealthyBackend})
		http.Error(w, "No healthy server available", http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug("Forwarding to backend",
		slog.String("client", clientIP),
		slog.String("backend", target.String()),
		slog.String("request_id", requestID))

	a := &attempt{target: target}
	ctx := context.WithValue(r.Context(), attemptKey{}, a)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	h.proxy.ServeHTTP(w, r.WithContext(ctx))

	if a.failed {
		return
	}

	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Backend:    target.String(),
		Duration:   time.Since(start),
		StatusCode: a.statusCode,
	})
}

func (h *ProxyHandler) rewrite(pr *httputil.ProxyRequest) {
	a := attemptFromContext(pr.In.Context())

	pr.SetURL(a.target.URL())
	if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
		pr.Out.Header["X-Forwarded-For"] = prior
	}
	pr.SetXForwarded()
}

func (h *ProxyHandler) modifyResponse(res *http.Response) error {
	if a := attemptFromContext(res.Request.Context()); a != nil {
		a.statusCode = res.StatusCode
	}
	return nil
}

func (h *ProxyHandler) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	a := attemptFromContext(r.Context())
	a.failed = true

	kind := classifyForwardError(r.Context(), err)
	attrs := []any{
		slog.String("backend", a.target.String()),
		slog.String("kind", kind.String()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.Any("error", err),
	}

	if kind == forwardClientCanceled {
		h.logger.Debug("Client went away before the backend answered", attrs...)
		return
	}

	if h.balancer.MarkUnhealthy(a.target, err) {
		h.logger.Warn("Server is down", slog.String("server", a.target.String()), slog.Any("error", err))
		h.metricsCollector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: a.target.String(),
			Healthy: false,
		})
	}

	h.logger.Error("Forwarding to backend failed", attrs...)
	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:    metrics.EventForwardFailed,
		Backend: a.target.String(),
	})

	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func attemptFromContext(ctx context.Context) *attempt {
	a, _ := ctx.Value(attemptKey{}).(*attempt)
	return a
}
