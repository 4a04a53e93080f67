package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
)

// roundRobinStrategy cycles through the snapshot in order. The cursor is
// advanced exactly once per selection and is never reset, so a change in the
// size of the healthy set only skews the cycle it happens in.
type roundRobinStrategy struct {
	current atomic.Uint64
}

func (rb *roundRobinStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	n := rb.current.Add(1)

	index := (n - 1) % uint64(len(backends))

	return backends[index]
}

func (rb *roundRobinStrategy) Name() string {
	return string(PolicyRoundRobin)
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
