// Package proxy turns a capability-set description into a working server proxy.
//
// A capability set (RPC, PubSub, the auxiliary session facet) is described once by a
// Descriptor. Build resolves it up front:
//
//	Descriptor.Operations ──→ Serializer  (operation name → closure building the wire message)
//	Descriptor.Incoming   ──→ Table       (message kind   → handler)
//
// Invoking an operation on the resulting ServerProxy serializes it, registers a pending
// entry if a reply is expected, and hands the bytes to the connection. Inbound bytes go the
// other way through the Table, which the connection drives as its transport.Receiver.
package proxy

import (
	"errors"
	"fmt"

	"mini-wamp/message"
)

var (
	// ErrProxyBuild is wrapped by every *BuildError.
	ErrProxyBuild = errors.New("proxy: capability set cannot be mapped to wire operations")
	// ErrUnsupportedOperation is returned when an operation is not part of the bound set.
	ErrUnsupportedOperation = errors.New("proxy: unsupported operation")
	// ErrInvalidArguments is returned when arguments do not fit the operation's wire layout.
	ErrInvalidArguments = errors.New("proxy: invalid arguments")
	// ErrUnhandledMessageKind is wrapped by every *UnhandledMessageError.
	ErrUnhandledMessageKind = errors.New("proxy: unhandled message kind")
)

// Operation is one remotely invocable operation. Kind is the message it is sent as;
// only TypeCall expects a reply.
type Operation struct {
	Name string
	Kind message.Type
}

// Handler receives an inbound message routed by the Table. Handlers run on the
// connection's receive path and must not block on it.
type Handler func(msg message.Message)

// Descriptor is the static description of a capability set.
type Descriptor struct {
	Name       string
	Operations []Operation
	// Incoming lists the inbound kinds this capability set consumes.
	Incoming map[message.Type]Handler
}

// BuildError reports why a Descriptor could not be bound.
type BuildError struct {
	Set       string
	Operation string
	Reason    string
}

func (e *BuildError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("proxy: build %q: %s", e.Set, e.Reason)
	}
	return fmt.Sprintf("proxy: build %q: operation %q: %s", e.Set, e.Operation, e.Reason)
}

func (e *BuildError) Unwrap() error { return ErrProxyBuild }

// UnhandledMessageError describes an inbound message no handler accepted, either because
// nobody claimed its kind or because it could not be parsed.
type UnhandledMessageError struct {
	Kind message.Type
	Data []byte
	Err  error // parse failure, nil when the kind was simply unclaimed
}

func (e *UnhandledMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy: unhandled %v message: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("proxy: unhandled %v message", e.Kind)
}

func (e *UnhandledMessageError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnhandledMessageKind, e.Err}
	}
	return []error{ErrUnhandledMessageKind}
}
