package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/http-load-balancer/config"
	"github.com/angeloszaimis/http-load-balancer/internal/backend"
	"github.com/angeloszaimis/http-load-balancer/internal/handler"
	"github.com/angeloszaimis/http-load-balancer/internal/healthcheck"
	"github.com/angeloszaimis/http-load-balancer/internal/httpserver"
	"github.com/angeloszaimis/http-load-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/http-load-balancer/internal/metrics"
	"github.com/angeloszaimis/http-load-balancer/internal/registry"
	"github.com/angeloszaimis/http-load-balancer/internal/strategy"
	"github.com/angeloszaimis/http-load-balancer/pkg/logger"
)

const (
	metricsBufferSize = 1024

	// writeTimeoutMargin keeps the proxy listener from cutting a response
	// the forward timeout would still allow.
	writeTimeoutMargin = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		slog.Error("Failed to load config", slog.Any("err", err))
		return 1
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
	if cfg.SourceFile != "" {
		log.Info("Loaded config file", slog.String("file", cfg.SourceFile))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize load balancer", slog.Any("err", err))
		return 1
	}

	if err := a.run(ctx); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		return 1
	}

	return 0
}

type app struct {
	cfg         *config.Config
	log         *slog.Logger
	registry    *registry.Registry
	prober      *healthcheck.Prober
	collector   *metrics.Collector
	proxyServer *httpserver.Server
	adminServer *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	backends, err := buildBackends(cfg.Backends)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(backends)
	if err != nil {
		return nil, err
	}

	strat, err := createStrategy(cfg.Routing.Policy)
	if err != nil {
		return nil, err
	}

	interval, err := cfg.HealthCheck.IntervalDuration()
	if err != nil {
		return nil, fmt.Errorf("health check interval: %w", err)
	}

	collector := metrics.NewCollector(metricsBufferSize, log)
	lb := loadbalancer.NewLoadBalancer(reg, strat)

	proxyHandler := handler.NewProxyHandler(log, lb,
		handler.WithTimeout(cfg.Proxy.Timeout),
		handler.WithMetrics(collector),
	)

	prober := healthcheck.NewProber(reg, interval, log,
		healthcheck.WithPath(cfg.HealthCheck.Path),
		healthcheck.WithTimeout(cfg.HealthCheck.Timeout),
		healthcheck.WithMetrics(collector),
	)

	proxyServer, err := httpserver.New(cfg.ListenAddress(),
		setupProxyHandler(proxyHandler, cfg.RateLimit, collector, log),
		httpserver.WithReadTimeout(cfg.Proxy.Timeout),
		httpserver.WithWriteTimeout(cfg.Proxy.Timeout+writeTimeoutMargin),
		httpserver.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		httpserver.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		log:         log,
		registry:    reg,
		prober:      prober,
		collector:   collector,
		proxyServer: proxyServer,
	}

	if cfg.Admin.Enabled {
		a.adminServer, err = httpserver.New(cfg.Admin.Address,
			setupAdminRouter(lb.Registry(), collector, lb.LoadBalancerStrategy().Name()),
			httpserver.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
			httpserver.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// run serves until ctx is cancelled or a listener fails. Listeners are shut
// down first, then the health probes, then the metrics collector.
func (a *app) run(ctx context.Context) error {
	if err := a.proxyServer.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", a.proxyServer.Addr(), err)
	}
	if a.adminServer != nil {
		if err := a.adminServer.Listen(); err != nil {
			_ = a.proxyServer.Shutdown(context.Background())
			return fmt.Errorf("listen on %s: %w", a.adminServer.Addr(), err)
		}
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	a.collector.Start(collectorCtx)

	probeCtx, stopProbes := context.WithCancel(context.Background())
	probesDone := make(chan struct{})
	go func() {
		defer close(probesDone)
		a.prober.Run(probeCtx)
	}()

	a.logStartup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.proxyServer.Start)
	if a.adminServer != nil {
		g.Go(a.adminServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")
		return a.shutdownServers()
	})

	err := g.Wait()

	stopProbes()
	<-probesDone

	stopCollector()
	<-a.collector.Done()

	a.log.Info("Load balancer stopped")
	return err
}

func (a *app) shutdownServers() error {
	var errs []error

	if err := a.proxyServer.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("proxy listener: %w", err))
	}
	if a.adminServer != nil {
		if err := a.adminServer.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("admin listener: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (a *app) logStartup() {
	interval, _ := a.cfg.HealthCheck.IntervalDuration()

	attrs := []any{
		slog.String("address", a.proxyServer.Addr()),
		slog.String("policy", a.cfg.Routing.Policy),
		slog.Int("backends", a.registry.Len()),
		slog.String("health_check_path", a.cfg.HealthCheck.Path),
		slog.Duration("health_check_interval", interval),
		slog.Duration("proxy_timeout", a.cfg.Proxy.Timeout),
	}
	if a.adminServer != nil {
		attrs = append(attrs, slog.String("admin_address", a.adminServer.Addr()))
	}
	if a.cfg.RateLimit.Enabled() {
		attrs = append(attrs, slog.Float64("rate_limit_rps", a.cfg.RateLimit.RequestsPerSecond))
	}

	a.log.Info("Load balancer started", attrs...)
}

func buildBackends(urls []string) ([]*backend.Backend, error) {
	backends := make([]*backend.Backend, 0, len(urls))

	for i, raw := range urls {
		b, err := backend.Parse(i, raw)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		return nil, registry.ErrNoBackends
	}

	return backends, nil
}

func createStrategy(policy string) (strategy.Strategy, error) {
	return strategy.New(strategy.Policy(policy))
}
