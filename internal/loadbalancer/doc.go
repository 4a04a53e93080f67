// Package loadbalancer selects a backend for each request by applying the
// configured strategy to the registry's current healthy snapshot.
package loadbalancer
