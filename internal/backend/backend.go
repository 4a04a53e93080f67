package backend

import (
	"errors"
	"fmt"
	"net/url"
)

// Status is the health of a backend as last observed by a probe or by the
// forwarding path.
type Status int32

const (
	StatusUnknown   Status = iota // No probe has completed yet
	StatusHealthy                 // Eligible for selection
	StatusUnhealthy               // Excluded from selection
)

var ErrInvalidURL = errors.New("invalid backend url")

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusHealthy:
		return "HEALTHY"
	case StatusUnhealthy:
		return "UNHEALTHY"
	default:
		return "INVALID"
	}
}

// MarshalText renders the status the same way String does.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsHealthy reports whether the status makes a backend eligible for selection.
// Unknown is never eligible.
func (s Status) IsHealthy() bool {
	return s == StatusHealthy
}

// Backend represents one configured upstream target.
type Backend struct {
	id  int
	url *url.URL
}

// New creates a backend with the given position in the registry and address.
func New(id int, u *url.URL) *Backend {
	clone := *u
	return &Backend{
		id:  id,
		url: &clone,
	}
}

// Parse validates rawURL and creates a backend from it. Only absolute http
// and https URLs with a host are accepted.
func Parse(id int, rawURL string) (*Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidURL, rawURL)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidURL, rawURL)
	}

	return New(id, u), nil
}

// ID returns the backend's position in the registry.
func (b *Backend) ID() int {
	return b.id
}

// URL returns a copy of the backend address.
func (b *Backend) URL() *url.URL {
	clone := *b.url
	return &clone
}

func (b *Backend) String() string {
	return b.url.String()
}
