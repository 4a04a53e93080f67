// Package middleware provides the http.Handler wrappers placed in front of
// the proxy handler: request ids, access logging and admission rate limiting.
package middleware
