// Package rpc is the RPC facet of a channel: it owns the pending-call table.
//
//	goroutine-1 ──Invoke(id=a)──┐
//	goroutine-2 ──Invoke(id=b)──┼──→ pending[a], pending[b] registered ──→ CALL on the wire
//	                            │
//	dispatch:  ←── CALLRESULT(b) ──→ pending[b] removed ──→ goroutine-2's Await returns
//
// An entry leaves the table exactly once: on its reply, on Cancel, when the awaiting
// context ends, or when the connection is lost. Whoever removes it decides the outcome.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mini-wamp/message"
	"mini-wamp/middleware"
	"mini-wamp/proxy"
)

const (
	opCall   = "call"
	opPrefix = "prefix"
)

type options struct {
	logger      *zap.Logger
	middlewares []middleware.Middleware
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware wraps Client.Call. Invoke is never wrapped.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// Client invokes remote procedures and correlates their replies.
type Client struct {
	proxy *proxy.ServerProxy
	u     message.Unmarshaler
	log   *zap.Logger
	call  middleware.HandlerFunc

	mu      sync.Mutex
	pending map[string]*Call
	lost    error
}

// NewClient binds the RPC capability set through b. u decodes results and error details.
func NewClient(b *proxy.Builder, u message.Unmarshaler, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Client{
		u:       u,
		log:     o.logger.Named("rpc"),
		pending: make(map[string]*Call),
	}
	p, err := b.Build(proxy.Descriptor{
		Name: "rpc",
		Operations: []proxy.Operation{
			{Name: opCall, Kind: message.TypeCall},
			{Name: opPrefix, Kind: message.TypePrefix},
		},
		Incoming: map[message.Type]proxy.Handler{
			message.TypeCallResult: c.onResult,
			message.TypeCallError:  c.onError,
		},
	}, c)
	if err != nil {
		return nil, err
	}
	c.proxy = p
	c.call = middleware.Chain(o.middlewares...)(c.invokeAndAwait)
	return c, nil
}

// Invoke sends a CALL and returns without waiting for the reply.
func (c *Client) Invoke(ctx context.Context, procURI string, args ...any) (*Call, error) {
	pending, err := c.proxy.Invoke(ctx, opCall, append([]any{procURI}, args...)...)
	if err != nil {
		return nil, err
	}
	call := pending.(*Call)
	c.log.Debug("call sent", zap.String("call_id", call.id), zap.String("proc", procURI))
	return call, nil
}

// Call invokes procURI through the middleware chain and waits for the reply.
func (c *Client) Call(ctx context.Context, procURI string, args ...any) (Result, error) {
	resp, err := c.call(ctx, &middleware.Request{ProcURI: procURI, Args: args})
	if err != nil {
		return Result{}, err
	}
	return Result{raw: resp.Payload, u: c.u}, nil
}

func (c *Client) invokeAndAwait(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
	call, err := c.Invoke(ctx, req.ProcURI, req.Args...)
	if err != nil {
		return nil, err
	}
	res, err := call.Await(ctx)
	if err != nil {
		return &middleware.Response{CallID: call.id}, err
	}
	return &middleware.Response{CallID: call.id, Payload: res.raw}, nil
}

// Cancel abandons a pending call without telling the router. It reports false when the
// call already finished.
func (c *Client) Cancel(callID string) bool {
	return c.resolve(callID, StateCancelled, Result{}, fmt.Errorf("%w: call %s", ErrCancelled, callID))
}

// Prefix defines a CURIE prefix for the rest of the session.
func (c *Client) Prefix(ctx context.Context, prefix, uri string) error {
	_, err := c.proxy.Invoke(ctx, opPrefix, prefix, uri)
	return err
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Register implements proxy.Registrar.
func (c *Client) Register(callID string) (proxy.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost != nil {
		return nil, c.lost
	}
	if _, dup := c.pending[callID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, callID)
	}
	call := newCall(callID, c)
	c.pending[callID] = call
	return call, nil
}

// Unregister implements proxy.Registrar. The call never reached the wire and nobody
// holds it, so it is dropped without an outcome.
func (c *Client) Unregister(callID string) {
	c.mu.Lock()
	delete(c.pending, callID)
	c.mu.Unlock()
}

// resolve removes callID and finishes it. Only the first of concurrent resolvers finds
// the entry; the others are no-ops.
func (c *Client) resolve(callID string, s State, res Result, err error) bool {
	c.mu.Lock()
	call, ok := c.pending[callID]
	delete(c.pending, callID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	call.finish(s, res, err)
	return true
}

func (c *Client) onResult(msg message.Message) {
	m := msg.(*message.CallResult)
	if !c.resolve(m.CallID, StateCompleted, Result{raw: m.Result, u: c.u}, nil) {
		c.log.Debug("dropping result for unknown call", zap.String("call_id", m.CallID))
	}
}

func (c *Client) onError(msg message.Message) {
	m := msg.(*message.CallError)
	err := &CallError{CallID: m.CallID, URI: m.ErrorURI, Description: m.Description, Details: m.Details, u: c.u}
	if !c.resolve(m.CallID, StateFailed, Result{}, err) {
		c.log.Debug("dropping error for unknown call", zap.String("call_id", m.CallID))
	}
}

// ConnectionLost fails every pending call and refuses new ones. Only the first cause is
// kept.
func (c *Client) ConnectionLost(cause error) {
	c.mu.Lock()
	if c.lost != nil {
		c.mu.Unlock()
		return
	}
	if cause == nil {
		c.lost = ErrConnectionLost
	} else {
		c.lost = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	calls := c.pending
	c.pending = make(map[string]*Call)
	lost := c.lost
	c.mu.Unlock()

	if len(calls) > 0 {
		c.log.Info("connection lost, failing pending calls", zap.Int("pending", len(calls)), zap.Error(cause))
	}
	for _, call := range calls {
		call.finish(StateFailed, Result{}, lost)
	}
}
