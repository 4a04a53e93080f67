// Package handler implements the main HTTP request handler for the load balancer.
// It selects a healthy backend, forwards the request to it through a shared
// reverse proxy and applies the failure policy when forwarding fails.
package handler
