package transport

import (
	"context"
	"io"
	"sync"
)

// PipeConn is one end of an in-memory connection pair created by Pipe.
// Send never blocks: messages queue on the peer until its receiver drains them.
type PipeConn struct {
	peer *PipeConn

	mu       sync.Mutex
	queue    [][]byte
	notify   chan struct{}
	started  bool
	closed   bool
	closeErr error
	readDone chan struct{}
}

// Pipe returns two connected ends. Closing one end closes both: the closing side sees
// ErrClosed, the other side sees io.EOF after draining what was already sent to it.
func Pipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{notify: make(chan struct{}, 1), readDone: make(chan struct{})}
	b := &PipeConn{notify: make(chan struct{}, 1), readDone: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return p.peer.enqueue(buf)
}

func (p *PipeConn) enqueue(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, data)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *PipeConn) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *PipeConn) Start(r Receiver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	if p.closed && len(p.queue) == 0 {
		return ErrClosed
	}
	p.started = true
	go p.recvLoop(r)
	return nil
}

func (p *PipeConn) recvLoop(r Receiver) {
	defer close(p.readDone)
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			data := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			r.OnMessage(data)
			continue
		}
		if p.closed {
			err := p.closeErr
			p.mu.Unlock()
			r.OnClose(err)
			return
		}
		p.mu.Unlock()
		<-p.notify
	}
}

// Close shuts down both ends and returns once this end's receiver has seen OnClose.
// Calling it again is a no-op.
func (p *PipeConn) Close() error {
	p.shutdown(ErrClosed, true)
	p.peer.shutdown(io.EOF, false)

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.readDone
	}
	return nil
}

func (p *PipeConn) shutdown(err error, drop bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeErr = err
	if drop {
		p.queue = nil
	}
	p.mu.Unlock()
	p.signal()
}
