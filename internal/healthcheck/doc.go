// Package healthcheck implements periodic health checking for backend servers.
//
// A Prober runs one probe loop per registered backend. Each loop checks its
// backend immediately, then once per interval, by sending a GET to the
// backend's health path. Only a 200 response marks the backend healthy; any
// other status, a timeout or a transport error marks it unhealthy. Results are
// written to the shared registry, which is what the routing path reads.
package healthcheck
