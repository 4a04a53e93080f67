// Package strategy defines the routing strategy interface and its two
// implementations:
//
//   - Round Robin: Sequential distribution across healthy backends
//   - Random: Uniform random selection among healthy backends
//
// Strategies only ever see the healthy snapshot produced by the registry, so
// they never select an unhealthy or unprobed backend. The set of policies is
// closed; New rejects anything else.
package strategy
