package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"mini-wamp/registry"
)

var testEndpoints = []registry.Endpoint{
	{Addr: "ws://r1:8080/ws", Weight: 10, Version: "1.0"},
	{Addr: "ws://r2:8080/ws", Weight: 5, Version: "1.0"},
	{Addr: "ws://r3:8080/ws", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for round := 0; round < 2; round++ {
		for i := range testEndpoints {
			ep, err := b.Pick(testEndpoints)
			if err != nil {
				t.Fatal(err)
			}
			if ep.Addr != testEndpoints[i].Addr {
				t.Fatalf("round %d pick %d: expect %s, got %s", round, i, testEndpoints[i].Addr, ep.Addr)
			}
		}
	}
}

func TestEmptyCandidates(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, WeightedRandomBalancer{}, Sticky("k")} {
		if _, err := b.Pick(nil); !errors.Is(err, ErrNoEndpoints) {
			t.Fatalf("%s: expect ErrNoEndpoints, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[ep.Addr]++
	}

	// Weight ratio is 10:5:10, so r1 and r3 should be ~2x of r2
	ratio := float64(counts["ws://r1:8080/ws"]) / float64(counts["ws://r2:8080/ws"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio r1/r2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := WeightedRandomBalancer{}
	eps := []registry.Endpoint{{Addr: "a"}, {Addr: "b", Weight: -3}}
	for i := 0; i < 20; i++ {
		ep, err := b.Pick(eps)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Addr != "a" && ep.Addr != "b" {
			t.Fatalf("unexpected pick %q", ep.Addr)
		}
	}
}

func TestRingIsStable(t *testing.T) {
	ring := NewRing(testEndpoints, 0)

	ep1, _ := ring.Pick("client-123")
	ep2, _ := ring.Pick("client-123")
	if ep1.Addr != ep2.Addr {
		t.Fatalf("same key mapped to different endpoints: %s vs %s", ep1.Addr, ep2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, _ := ring.Pick(fmt.Sprintf("client-%d", i))
		seen[ep.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints, got %d", len(seen))
	}
}

func TestRingRemovalOnlyMovesOwnedKeys(t *testing.T) {
	full := NewRing(testEndpoints, 0)
	reduced := NewRing([]registry.Endpoint{testEndpoints[0], testEndpoints[2]}, 0)

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("client-%d", i)
		before, _ := full.Pick(key)
		if before.Addr == testEndpoints[1].Addr {
			continue
		}
		after, _ := reduced.Pick(key)
		if after.Addr != before.Addr {
			t.Fatalf("%s moved from %s to %s although its router stayed", key, before.Addr, after.Addr)
		}
	}
}

func TestStickyMatchesRing(t *testing.T) {
	want, _ := NewRing(testEndpoints, DefaultReplicas).Pick("client-7")
	got, err := Sticky("client-7").Pick(testEndpoints)
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != want.Addr {
		t.Fatalf("expect %s, got %s", want.Addr, got.Addr)
	}
}
