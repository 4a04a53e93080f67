package loadbalancer

import (
	"errors"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
	"github.com/angeloszaimis/http-load-balancer/internal/registry"
	"github.com/angeloszaimis/http-load-balancer/internal/strategy"
)

var ErrNoHealthyBackend = errors.New("no healthy backend available")

// LoadBalancer combines the registry's healthy snapshot with a routing
// strategy. It holds no lock of its own: the registry synchronizes health
// state and the strategy synchronizes its cursor.
type LoadBalancer struct {
	registry *registry.Registry
	strategy strategy.Strategy
}

func NewLoadBalancer(reg *registry.Registry, strat strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		registry: reg,
		strategy: strat,
	}
}

// Next selects the backend for one request.
func (lb *LoadBalancer) Next() (*backend.Backend, error) {
	chosen := lb.strategy.SelectBackend(lb.registry.HealthySnapshot())
	if chosen == nil {
		return nil, ErrNoHealthyBackend
	}

	return chosen, nil
}

// MarkUnhealthy records a forwarding failure against b ahead of its next
// scheduled probe. Returns true if b was not already unhealthy.
func (lb *LoadBalancer) MarkUnhealthy(b *backend.Backend, cause error) bool {
	changed, err := lb.registry.SetHealth(b.ID(), backend.StatusUnhealthy, cause)
	return err == nil && changed
}

func (lb *LoadBalancer) Registry() *registry.Registry {
	return lb.registry
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}
