// Package backend defines the upstream servers the load balancer forwards to.
// A Backend is immutable after construction; its health status lives in the
// registry package, which owns all mutation.
package backend
