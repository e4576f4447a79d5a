// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd acts as the phonebook of routers per realm:
//
//	Key:   /mini-wamp/routers/{realm}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if a router dies, the lease expires and the entry
// disappears, so clients stop dialing ghost routers.
package registry

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/mini-wamp/routers/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	log    *zap.Logger
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
// A nil logger disables logging.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, log: logger.Named("registry")}, nil
}

func realmPrefix(realm string) string {
	return keyPrefix + realm + "/"
}

// Register adds a router endpoint with a TTL lease and keeps the lease alive until
// ctx is done.
//
// leaseID stays a local variable: several routers may share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, realm string, endpoint Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, realmPrefix(realm)+endpoint.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.log.Debug("lease keep-alive stopped", zap.String("realm", realm), zap.String("addr", endpoint.Addr))
	}()
	return nil
}

// Deregister removes a router endpoint.
func (r *EtcdRegistry) Deregister(ctx context.Context, realm string, addr string) error {
	_, err := r.client.Delete(ctx, realmPrefix(realm)+addr)
	return err
}

// Watch emits the full endpoint list whenever anything under the realm changes
// (registrations, deregistrations, lease expirations) until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, realm string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, realmPrefix(realm), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetching is simpler than replaying individual watch events.
			endpoints, err := r.Discover(ctx, realm)
			if err != nil {
				r.log.Warn("rediscover failed", zap.String("realm", realm), zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every endpoint currently registered for realm.
func (r *EtcdRegistry) Discover(ctx context.Context, realm string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, realmPrefix(realm), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}

	return endpoints, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
