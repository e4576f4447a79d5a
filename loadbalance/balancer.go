// Package loadbalance picks the router a new channel connects to when a realm is served
// by several routers.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity routers
//   - WeightedRandom:  heterogeneous routers, chosen in proportion to Endpoint.Weight
//   - Sticky:          consistent hashing, the same client key lands on the same router
package loadbalance

import (
	"errors"

	"mini-wamp/registry"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer chooses one endpoint out of the candidates a Registry returned.
// The dialer calls Pick before each connection attempt and drops endpoints that fail,
// so Pick sees a shrinking list on failover.
type Balancer interface {
	// Pick must be goroutine-safe.
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name is used in logs.
	Name() string
}
