// Package registry records which routers serve a realm so clients can find one to dial.
package registry

import "context"

// Endpoint is one router a client can connect to.
type Endpoint struct {
	Addr      string // ws://host:port/path for websocket, host:port for rawsocket
	Transport string // "websocket" or "rawsocket"
	Weight    int    // Weight for load balancing
	Version   string
}

type Registry interface {
	Register(ctx context.Context, realm string, endpoint Endpoint, ttl int64) error
	Deregister(ctx context.Context, realm string, addr string) error
	Discover(ctx context.Context, realm string) ([]Endpoint, error)
	Watch(ctx context.Context, realm string) <-chan []Endpoint
}
