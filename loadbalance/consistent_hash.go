package loadbalance

import (
	"hash/crc32"
	"slices"
	"sort"
	"strconv"

	"mini-wamp/registry"
)

// DefaultReplicas is the number of virtual nodes a weight-1 endpoint gets on a Ring.
const DefaultReplicas = 64

// Ring maps keys onto endpoints by consistent hashing. Removing one router only moves
// the keys that router owned; everyone else keeps their placement.
//
//	        0
//	     ╱     ╲
//	  B ●       ● A
//	    │ key ◆─┼─► A   (clockwise to the nearest virtual node)
//	  C ●       ● A'
//	     ╲     ╱
//
// An endpoint with Weight w gets w times the replicas, so heavier routers own
// proportionally more of the ring.
type Ring struct {
	points []ringPoint
}

type ringPoint struct {
	hash uint32
	ep   *registry.Endpoint
}

// NewRing places every endpoint on a ring. replicas <= 0 uses DefaultReplicas.
// The ring points into endpoints; the caller must not modify the slice afterwards.
func NewRing(endpoints []registry.Endpoint, replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	r := &Ring{}
	for i := range endpoints {
		ep := &endpoints[i]
		n := replicas * max(ep.Weight, 1)
		for v := 0; v < n; v++ {
			h := crc32.ChecksumIEEE([]byte(ep.Addr + "#" + strconv.Itoa(v)))
			r.points = append(r.points, ringPoint{hash: h, ep: ep})
		}
	}
	slices.SortFunc(r.points, func(a, b ringPoint) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}
		return 0
	})
	return r
}

// Pick returns the endpoint owning key.
func (r *Ring) Pick(key string) (*registry.Endpoint, error) {
	if len(r.points) == 0 {
		return nil, ErrNoEndpoints
	}
	h := crc32.ChecksumIEEE([]byte(key))
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].ep, nil
}

// Sticky is a Balancer that always sends its key to the same router while the candidate set
// is unchanged.
type Sticky string

func (s Sticky) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	return NewRing(endpoints, DefaultReplicas).Pick(string(s))
}

func (s Sticky) Name() string { return "sticky" }
