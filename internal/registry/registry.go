package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/angeloszaimis/http-load-balancer/internal/backend"
)

var (
	ErrNoBackends     = errors.New("at least one backend must be configured")
	ErrUnknownBackend = errors.New("unknown backend")
)

// Registry holds the configured backends in their configured order. The set
// never changes after New; only health status does.
type Registry struct {
	backends []*backend.Backend
	mutex    sync.RWMutex
	states   []state
}

type state struct {
	status    backend.Status
	lastCheck time.Time
	lastError string
}

// BackendStats is a point-in-time copy of one backend's health record.
type BackendStats struct {
	ID        int            `json:"id"`
	URL       string         `json:"url"`
	Status    backend.Status `json:"status"`
	LastCheck time.Time      `json:"last_check"`
	LastError string         `json:"last_error,omitempty"`
}

// New creates a registry over backends. Every backend starts as
// StatusUnknown and is excluded from HealthySnapshot until a probe resolves
// it. Backend ids must match their position in the slice.
func New(backends []*backend.Backend) (*Registry, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	owned := make([]*backend.Backend, len(backends))
	copy(owned, backends)

	for i, b := range owned {
		if b == nil || b.ID() != i {
			return nil, ErrUnknownBackend
		}
	}

	return &Registry{
		backends: owned,
		states:   make([]state, len(owned)),
	}, nil
}

// All returns every configured backend in configuration order.
func (r *Registry) All() []*backend.Backend {
	all := make([]*backend.Backend, len(r.backends))
	copy(all, r.backends)
	return all
}

// Len returns the number of configured backends.
func (r *Registry) Len() int {
	return len(r.backends)
}

// HealthySnapshot returns the healthy backends in configuration order, as
// they were at the instant of the call.
func (r *Registry) HealthySnapshot() []*backend.Backend {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	healthy := make([]*backend.Backend, 0, len(r.backends))
	for i, b := range r.backends {
		if r.states[i].status.IsHealthy() {
			healthy = append(healthy, b)
		}
	}

	return healthy
}

// SetHealth records status for the backend with the given id. cause is kept
// as the last error when the backend turns unhealthy and may be nil.
// Returns true if the status changed, false if it was already in that state.
func (r *Registry) SetHealth(id int, status backend.Status, cause error) (changed bool, err error) {
	if id < 0 || id >= len(r.backends) {
		return false, ErrUnknownBackend
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := &r.states[id]
	changed = s.status != status

	s.status = status
	s.lastCheck = time.Now()
	if cause != nil {
		s.lastError = cause.Error()
	} else if status.IsHealthy() {
		s.lastError = ""
	}

	return changed, nil
}

// Status returns the current status of the backend with the given id.
func (r *Registry) Status(id int) (backend.Status, error) {
	if id < 0 || id >= len(r.backends) {
		return backend.StatusUnknown, ErrUnknownBackend
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.states[id].status, nil
}

// Stats returns a copy of every backend's health record in configuration
// order.
func (r *Registry) Stats() []BackendStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make([]BackendStats, len(r.backends))
	for i, b := range r.backends {
		stats[i] = BackendStats{
			ID:        b.ID(),
			URL:       b.String(),
			Status:    r.states[i].status,
			LastCheck: r.states[i].lastCheck,
			LastError: r.states[i].lastError,
		}
	}

	return stats
}
