package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
	"github.com/angeloszaimis/http-load-balancer/internal/metrics"
	"github.com/angeloszaimis/http-load-balancer/internal/registry"
)

const (
	DefaultPath    = "/health"
	DefaultTimeout = 5 * time.Second

	// maxDrainBytes bounds how much of a health response body is read
	// before the connection is released.
	maxDrainBytes = 64 << 10
)

var ErrUnexpectedStatus = errors.New("unexpected health check status")

type Option func(*Prober)

// WithPath sets the path probed on every backend.
func WithPath(path string) Option {
	return func(p *Prober) {
		if path != "" {
			p.path = path
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Prober) {
		p.collector = collector
	}
}

type Prober struct {
	registry  *registry.Registry
	client    *http.Client
	path      string
	rawQuery  string
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewProber creates a prober for every backend in reg. A single probe never
// runs longer than the interval, so a probe's timeout is capped at interval.
func NewProber(reg *registry.Registry, interval time.Duration, logger *slog.Logger, opts ...Option) *Prober {
	p := &Prober{
		registry: reg,
		client:   newClient(),
		path:     DefaultPath,
		interval: interval,
		timeout:  DefaultTimeout,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.timeout = min(p.timeout, p.interval)
	p.path, p.rawQuery, _ = strings.Cut(p.path, "?")

	return p
}

// newClient returns a client that reports redirects as they are. A backend is
// healthy only when its health path itself answers 200.
func newClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Run probes every backend until ctx is cancelled and returns once all probe
// loops have exited.
func (p *Prober) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, b := range p.registry.All() {
		wg.Go(func() {
			p.loop(ctx, b)
		})
	}

	wg.Wait()
}

func (p *Prober) loop(ctx context.Context, b *backend.Backend) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx, b)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Health check stopped",
				slog.String("server", b.String()))
			return

		case <-ticker.C:
			p.probe(ctx, b)
		}
	}
}

func (p *Prober) probe(ctx context.Context, b *backend.Backend) {
	status, checkErr := p.Check(ctx, b)

	// A probe aborted by shutdown says nothing about the backend.
	if ctx.Err() != nil {
		return
	}

	changed, err := p.registry.SetHealth(b.ID(), status, checkErr)
	if err != nil {
		p.logger.Error("Failed to record health status",
			slog.String("server", b.String()),
			slog.Any("error", err))
		return
	}

	if !changed {
		return
	}

	if status.IsHealthy() {
		p.logger.Info("Server is up",
			slog.String("server", b.String()))
	} else {
		p.logger.Warn("Server is down",
			slog.String("server", b.String()),
			slog.Any("error", checkErr))
	}

	p.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Backend: b.String(),
		Healthy: status.IsHealthy(),
	})
}

// Check performs a single health probe against b.
func (p *Prober) Check(ctx context.Context, b *backend.Backend) (backend.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	healthURL := b.URL().JoinPath(p.path)
	healthURL.RawQuery = p.rawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return backend.StatusUnhealthy, fmt.Errorf("build health request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return backend.StatusUnhealthy, err
	}
	defer res.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxDrainBytes))

	if res.StatusCode != http.StatusOK {
		return backend.StatusUnhealthy, fmt.Errorf("%w: %d", ErrUnexpectedStatus, res.StatusCode)
	}

	return backend.StatusHealthy, nil
}
