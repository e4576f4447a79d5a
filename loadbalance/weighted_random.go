package loadbalance

import (
	"math/rand/v2"

	"mini-wamp/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to Weight.
// Negative weights count as zero; when no candidate has a weight they share evenly.
type WeightedRandomBalancer struct{}

func (WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	total := 0
	for _, ep := range endpoints {
		total += max(ep.Weight, 0)
	}
	if total == 0 {
		return &endpoints[rand.IntN(len(endpoints))], nil
	}

	r := rand.IntN(total)
	for i := range endpoints {
		r -= max(endpoints[i].Weight, 0)
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (WeightedRandomBalancer) Name() string { return "weighted-random" }
