// Package config handles loading and validation of the load balancer
// configuration from command line flags, environment variables and an
// optional YAML file. It covers the listener, backend URLs, routing policy,
// health checks, forwarding timeout, rate limiting, the admin listener and
// logging.
package config
