// Package middleware wraps outgoing RPC calls in an onion of cross-cutting behaviour.
//
//	Chain(Logging, Timeout, RateLimit)(invoke)
//
//	caller ──→ Logging ──→ Timeout ──→ RateLimit ──→ invoke (CALL on the wire, await reply)
//
// Middlewares only see the procedure, its arguments and the outcome; they never touch
// the pending-call table.
package middleware

import (
	"context"

	"mini-wamp/message"
)

// Request is an outgoing call as the middleware chain sees it.
type Request struct {
	ProcURI string
	Args    []any
}

// Response is the outcome of a completed call.
type Response struct {
	CallID  string
	Payload message.Raw
}

type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one given is the outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
