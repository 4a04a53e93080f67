// Package registry owns the fixed, ordered set of backends and the mutable
// health status of each one. It is the only place in the load balancer that
// synchronizes shared state: probes write through SetHealth, the request path
// reads through HealthySnapshot, and neither ever touches the lock directly.
package registry
