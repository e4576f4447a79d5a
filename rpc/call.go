package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"mini-wamp/message"
)

// State is where a call is in its life. Everything but StateSent is terminal.
type State int32

const (
	StateSent State = iota
	StateCompleted
	StateFailed
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed out"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Result is the payload of a CALLRESULT, still in wire form.
type Result struct {
	raw message.Raw
	u   message.Unmarshaler
}

func (r Result) Raw() message.Raw { return r.raw }

// Decode decodes the result into v.
func (r Result) Decode(v any) error {
	if r.u == nil {
		return errors.New("rpc: empty result")
	}
	return r.u.Unmarshal(r.raw, v)
}

// Call is one outstanding remote procedure call.
type Call struct {
	id     string
	client *Client

	state  atomic.Int32
	done   chan struct{}
	result Result
	err    error
}

func newCall(id string, c *Client) *Call {
	return &Call{id: id, client: c, done: make(chan struct{})}
}

func (c *Call) ID() string { return c.id }

func (c *Call) State() State { return State(c.state.Load()) }

// Done is closed once the call reached a terminal state.
func (c *Call) Done() <-chan struct{} { return c.done }

// finish is called by whoever removed the call from the pending table, so exactly once.
func (c *Call) finish(s State, res Result, err error) {
	c.result = res
	c.err = err
	c.state.Store(int32(s))
	close(c.done)
}

// Await blocks until the call completes or ctx ends. An expired deadline marks the call
// timed out, any other cancellation marks it cancelled; a reply arriving later is
// dropped. If the reply wins the race its outcome is returned instead.
func (c *Call) Await(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}

	s, sentinel := StateCancelled, ErrCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s, sentinel = StateTimedOut, ErrTimedOut
	}
	c.client.resolve(c.id, s, Result{}, fmt.Errorf("%w: call %s: %v", sentinel, c.id, ctx.Err()))
	<-c.done
	return c.result, c.err
}
