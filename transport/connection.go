// Package transport provides the connections a channel runs over.
//
// A Connection carries opaque formatted messages in both directions. Inbound messages are
// handed to a single Receiver from one goroutine, one at a time, in arrival order:
//
//	Channel ──Send(bytes)──► Connection ──► router
//	router ──► Connection readLoop ──OnMessage(bytes)──► Receiver (dispatch table)
//	                          └── on EOF / error ──OnClose(err)──► Receiver
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mini-wamp/codec"
)

var (
	ErrClosed         = errors.New("transport: connection closed")
	ErrAlreadyStarted = errors.New("transport: receiver already registered")
)

// Receiver consumes everything a Connection reads.
type Receiver interface {
	// OnMessage is called for every inbound message, never concurrently with itself.
	OnMessage(data []byte)
	// OnClose is called exactly once when the connection ends, after the last OnMessage.
	OnClose(err error)
}

// Connection is a bidirectional message channel to a router.
type Connection interface {
	// Send transmits one formatted message. Safe for concurrent use.
	Send(ctx context.Context, data []byte) error
	// Start registers the receiver and begins delivering inbound messages.
	// It may be called only once per connection.
	Start(r Receiver) error
	// Close ends the connection. Once Start succeeded it returns only after the receiver's
	// OnClose has returned, so it must not be called from inside a Receiver callback.
	Close() error
}

// Kinds of connections a router endpoint can advertise.
const (
	KindWebSocket = "websocket"
	KindRawSocket = "rawsocket"
)

// DialConfig configures outgoing connections.
type DialConfig struct {
	CodecType        codec.Type
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration // ping / heartbeat interval, 0 disables
	MaxMessageSize   int64
	MaxRetryCount    int // extra dial attempts after the first failure
	MinRetryInterval time.Duration
	MaxRetryInterval time.Duration
	Header           http.Header // extra WebSocket handshake headers
	Logger           *zap.Logger
}

// IsZero reports whether no field of c is set.
func (c DialConfig) IsZero() bool {
	return c.CodecType == 0 && c.HandshakeTimeout == 0 && c.KeepAlive == 0 &&
		c.MaxMessageSize == 0 && c.MaxRetryCount == 0 && c.MinRetryInterval == 0 &&
		c.MaxRetryInterval == 0 && c.Header == nil && c.Logger == nil
}

// DefaultDialConfig returns the settings used when a field is left zero.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		CodecType:        codec.TypeJSON,
		HandshakeTimeout: 10 * time.Second,
		KeepAlive:        30 * time.Second,
		MaxMessageSize:   16 << 20,
		MaxRetryCount:    0,
		MinRetryInterval: 100 * time.Millisecond,
		MaxRetryInterval: 5 * time.Second,
	}
}

func (c DialConfig) withDefaults() DialConfig {
	def := DefaultDialConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MinRetryInterval <= 0 {
		c.MinRetryInterval = def.MinRetryInterval
	}
	if c.MaxRetryInterval < c.MinRetryInterval {
		c.MaxRetryInterval = def.MaxRetryInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
