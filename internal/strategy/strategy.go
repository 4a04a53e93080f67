package strategy

import (
	"errors"
	"fmt"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
)

// Strategy picks one backend out of a healthy snapshot. SelectBackend returns
// nil if and only if backends is empty. Implementations never keep references
// to the snapshot across calls.
type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
	Name() string
}

// Policy names a routing strategy as it appears in configuration.
type Policy string

const (
	PolicyRoundRobin Policy = "round-robin"
	PolicyRandom     Policy = "random"
)

var ErrUnknownPolicy = errors.New("unknown routing policy")

// Policies lists every supported policy.
func Policies() []Policy {
	return []Policy{PolicyRoundRobin, PolicyRandom}
}

// New returns a fresh strategy for policy.
func New(policy Policy) (Strategy, error) {
	switch policy {
	case PolicyRoundRobin:
		return NewRoundRobinStrategy(), nil
	case PolicyRandom:
		return NewRandomStrategy(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}
