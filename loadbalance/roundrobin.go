package loadbalance

import (
	"sync/atomic"

	"mini-wamp/registry"
)

// RoundRobinBalancer cycles through the candidates in order. The zero value is ready to use.
type RoundRobinBalancer struct {
	next atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	i := (b.next.Add(1) - 1) % uint64(len(endpoints))
	return &endpoints[i], nil
}

func (b *RoundRobinBalancer) Name() string { return "round-robin" }
