package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-wamp/loadbalance"
	"mini-wamp/registry"
)

// ErrNoEndpoints is returned when a realm has no registered router.
var ErrNoEndpoints = errors.New("transport: no router endpoints")

var defaultBalancer loadbalance.Balancer = &loadbalance.RoundRobinBalancer{}

// Dial opens a connection to a single endpoint using its advertised transport kind.
func Dial(ctx context.Context, ep registry.Endpoint, cfg DialConfig) (Connection, error) {
	switch ep.Transport {
	case KindWebSocket, "":
		return DialWebSocket(ctx, ep.Addr, cfg)
	case KindRawSocket:
		return DialRawSocket(ctx, ep.Addr, cfg)
	}
	return nil, fmt.Errorf("transport: unknown endpoint transport %q", ep.Transport)
}

// Dialer finds a router for a realm in a Registry and connects to it.
// When AffinityKey is set the endpoint is chosen by consistent hashing on that key,
// otherwise by Balancer (round robin when nil). An endpoint that fails to dial is
// dropped and another one is picked until none are left.
type Dialer struct {
	Registry    registry.Registry
	Balancer    loadbalance.Balancer
	AffinityKey string
	Config      DialConfig

	// dial is swapped out in tests.
	dial func(ctx context.Context, ep registry.Endpoint, cfg DialConfig) (Connection, error)
}

// DialRealm returns a connection to one of realm's routers and the endpoint it reached.
func (d *Dialer) DialRealm(ctx context.Context, realm string) (Connection, registry.Endpoint, error) {
	log := d.Config.withDefaults().Logger.Named("dialer").With(zap.String("realm", realm))

	candidates, err := d.Registry.Discover(ctx, realm)
	if err != nil {
		return nil, registry.Endpoint{}, fmt.Errorf("discover %s: %w", realm, err)
	}
	if len(candidates) == 0 {
		return nil, registry.Endpoint{}, fmt.Errorf("%w for realm %s", ErrNoEndpoints, realm)
	}

	dial := d.dial
	if dial == nil {
		dial = Dial
	}

	var errs error
	for len(candidates) > 0 {
		ep, err := d.pick(candidates)
		if err != nil {
			return nil, registry.Endpoint{}, multierr.Append(errs, err)
		}
		chosen := *ep

		conn, err := dial(ctx, chosen, d.Config)
		if err == nil {
			log.Debug("connected", zap.String("addr", chosen.Addr))
			return conn, chosen, nil
		}
		log.Info("endpoint unreachable", zap.String("addr", chosen.Addr), zap.Error(err))
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
		candidates = without(candidates, chosen.Addr)
	}
	return nil, registry.Endpoint{}, fmt.Errorf("dial realm %s: %w", realm, errs)
}

func (d *Dialer) pick(candidates []registry.Endpoint) (*registry.Endpoint, error) {
	if d.AffinityKey != "" {
		return loadbalance.Sticky(d.AffinityKey).Pick(candidates)
	}
	if d.Balancer == nil {
		return defaultBalancer.Pick(candidates)
	}
	return d.Balancer.Pick(candidates)
}

func without(eps []registry.Endpoint, addr string) []registry.Endpoint {
	out := make([]registry.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Addr != addr {
			out = append(out, ep)
		}
	}
	return out
}
