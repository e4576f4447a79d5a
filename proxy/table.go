package proxy

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mini-wamp/codec"
	"mini-wamp/message"
)

// MissingHandler is invoked for every inbound message no capability set consumes.
type MissingHandler func(err *UnhandledMessageError)

type slot struct {
	owner   string
	handler Handler
}

// Table is the incoming message dispatch table of one connection. It is the
// transport.Receiver of that connection: the connection calls OnMessage one message at a
// time in arrival order, and the table routes each message by kind.
type Table struct {
	formatter codec.Formatter
	log       *zap.Logger
	missing   MissingHandler

	mu       sync.RWMutex
	slots    map[message.Type]slot
	onClose  []func(error)
	closed   bool
	closeErr error
}

func NewTable(formatter codec.Formatter, opts ...Option) *Table {
	o := collect(opts)
	t := &Table{
		formatter: formatter,
		log:       o.logger.Named("dispatch"),
		missing:   o.missing,
		slots:     make(map[message.Type]slot),
	}
	if t.missing == nil {
		t.missing = func(err *UnhandledMessageError) {
			t.log.Warn("unhandled message", zap.Stringer("kind", err.Kind), zap.Error(err))
		}
	}
	return t
}

// claim installs all handlers of one capability set, or none of them.
func (t *Table) claim(owner string, handlers map[message.Type]Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for kind, h := range handlers {
		if !kind.Known() {
			return &BuildError{Set: owner, Reason: fmt.Sprintf("unknown incoming kind %v", kind)}
		}
		if h == nil {
			return &BuildError{Set: owner, Reason: fmt.Sprintf("nil handler for %v", kind)}
		}
		if s, taken := t.slots[kind]; taken {
			return &BuildError{Set: owner, Reason: fmt.Sprintf("%v already handled by %q", kind, s.owner)}
		}
	}
	for kind, h := range handlers {
		t.slots[kind] = slot{owner: owner, handler: h}
	}
	return nil
}

// OnMessage decodes one inbound message and dispatches it.
func (t *Table) OnMessage(data []byte) {
	fields, err := t.formatter.Decode(data)
	if err != nil {
		t.missing(&UnhandledMessageError{Kind: -1, Data: data, Err: err})
		return
	}
	kind, err := message.ReadType(t.formatter, fields)
	if err != nil {
		t.missing(&UnhandledMessageError{Kind: -1, Data: data, Err: err})
		return
	}

	t.mu.RLock()
	s, ok := t.slots[kind]
	t.mu.RUnlock()
	if !ok {
		t.missing(&UnhandledMessageError{Kind: kind, Data: data})
		return
	}

	msg, err := message.Parse(t.formatter, fields)
	if err != nil {
		t.missing(&UnhandledMessageError{Kind: kind, Data: data, Err: err})
		return
	}
	s.handler(msg)
}

// Dispatch routes an already parsed message. Used by embedders that decode themselves.
func (t *Table) Dispatch(msg message.Message) {
	t.mu.RLock()
	s, ok := t.slots[msg.Type()]
	t.mu.RUnlock()
	if !ok {
		t.missing(&UnhandledMessageError{Kind: msg.Type()})
		return
	}
	s.handler(msg)
}

// OnClosed registers fn to run once when the connection ends. If it already ended fn runs
// immediately.
func (t *Table) OnClosed(fn func(error)) {
	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		fn(err)
		return
	}
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

// OnClose fans the connection's end out to every listener, in registration order.
func (t *Table) OnClose(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	listeners := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	t.log.Debug("connection ended", zap.Error(err))
	for _, fn := range listeners {
		fn(err)
	}
}

// Closed reports whether the connection has ended, and why.
func (t *Table) Closed() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed, t.closeErr
}
