package channel

import (
	"time"

	"go.uber.org/zap"

	"mini-wamp/codec"
	"mini-wamp/middleware"
	"mini-wamp/proxy"
	"mini-wamp/transport"
)

// Config holds everything a Factory needs to assemble channels.
type Config struct {
	CodecType codec.Type
	// Dial configures connections opened by Factory.Dial. Its Logger defaults to Logger.
	Dial transport.DialConfig
	// OpenTimeout bounds the wait for WELCOME when the context passed to Open has no
	// deadline of its own. Zero waits as long as the context allows.
	OpenTimeout time.Duration
	// CloseTimeout bounds the UNSUBSCRIBEs sent by Close.
	CloseTimeout time.Duration
	// Middlewares wrap rpc.Client.Call.
	Middlewares []middleware.Middleware
	// MissingHandler receives inbound messages no facet consumes. The default logs them.
	MissingHandler proxy.MissingHandler
	Logger         *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		CodecType:    codec.TypeJSON,
		Dial:         transport.DefaultDialConfig(),
		OpenTimeout:  10 * time.Second,
		CloseTimeout: time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Dial.Logger == nil {
		c.Dial.Logger = c.Logger
	}
	c.Dial.CodecType = c.CodecType
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = time.Second
	}
	return c
}
