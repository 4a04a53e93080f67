package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	index := rand.IntN(len(backends))
	return backends[index]
}

func (r *randomStrategy) Name() string {
	return string(PolicyRandom)
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
