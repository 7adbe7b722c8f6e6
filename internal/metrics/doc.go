// Package metrics exposes Prometheus metrics for the gateway.
//
// Metrics owns a private registry so tests and multiple gateways in one
// process do not collide. It implements auth.Recorder, so the resolver and
// the brute-force guard report into it directly.
package metrics
