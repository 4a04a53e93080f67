// Package httpserver wraps net/http.Server with address validation,
// configurable timeouts and graceful shutdown. The load balancer runs two of
// them: the proxy listener and the admin listener.
package httpserver
