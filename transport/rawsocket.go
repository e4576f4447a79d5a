package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mini-wamp/codec"
	"mini-wamp/protocol"
)

// RawSocketConn runs WAMP over a plain byte stream using the protocol frame layer.
// WAMP v1 only defines WebSocket, so no stock v1 router speaks this framing: both ends
// must be mini-wamp peers (or a router fronted by an adapter that does).
//
//	goroutine-1 ──Send──┐
//	goroutine-2 ──Send──┼──→ sending mutex ──→ net.Conn ──→ router
//	heartbeatLoop ──────┘
//
//	recvLoop: ←── frame ──→ Receiver.OnMessage (heartbeats are swallowed)
type RawSocketConn struct {
	conn       net.Conn
	codec      codec.Type
	keepAlive  time.Duration
	maxBodyLen uint32
	log        *zap.Logger

	sending   sync.Mutex // whole frames only: header of A + body of B would corrupt the stream
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
}

// NewRawSocketConn wraps an established stream. Nothing is read until Start.
func NewRawSocketConn(conn net.Conn, cfg DialConfig) *RawSocketConn {
	cfg = cfg.withDefaults()
	maxBody := uint32(protocol.DefaultMaxBodyLen)
	if cfg.MaxMessageSize > 0 && cfg.MaxMessageSize < int64(maxBody) {
		maxBody = uint32(cfg.MaxMessageSize)
	}
	return &RawSocketConn{
		conn:       conn,
		codec:      cfg.CodecType,
		keepAlive:  cfg.KeepAlive,
		maxBodyLen: maxBody,
		log:        cfg.Logger.Named("rawsocket").With(zap.String("remote", conn.RemoteAddr().String())),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
	}
}

// DialRawSocket opens a TCP connection to addr ("host:port").
func DialRawSocket(ctx context.Context, addr string, cfg DialConfig) (*RawSocketConn, error) {
	cfg = cfg.withDefaults()
	d := net.Dialer{Timeout: cfg.HandshakeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewRawSocketConn(conn, cfg), nil
}

func (t *RawSocketConn) Send(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	header := protocol.Header{
		CodecType: t.codec,
		FrameType: protocol.FrameTypeMessage,
		BodyLen:   uint32(len(data)),
	}
	return protocol.Encode(t.conn, &header, data)
}

func (t *RawSocketConn) Start(r Receiver) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if t.closed.Load() {
		close(t.readDone)
		return ErrClosed
	}
	go t.recvLoop(r)
	if t.keepAlive > 0 {
		go t.heartbeatLoop(t.keepAlive)
	}
	return nil
}

// recvLoop is the only reader of the stream: frame boundaries can only be found
// by reading sequentially.
func (t *RawSocketConn) recvLoop(r Receiver) {
	defer close(t.readDone)
	for {
		header, body, err := protocol.Decode(t.conn, t.maxBodyLen)
		if err != nil {
			if t.closed.Load() {
				err = ErrClosed
			} else {
				t.log.Debug("read failed", zap.Error(err))
			}
			t.shutdown()
			r.OnClose(err)
			return
		}
		if header.FrameType == protocol.FrameTypeHeartbeat {
			continue
		}
		r.OnMessage(body)
	}
}

// heartbeatLoop keeps idle connections from being reaped by the router or middleboxes.
func (t *RawSocketConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: t.codec,
			FrameType: protocol.FrameTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			if !t.closed.Load() {
				t.log.Debug("heartbeat failed", zap.Error(err))
			}
			return
		}
	}
}

// Close closes the stream and, once started, waits until the receiver has seen OnClose.
func (t *RawSocketConn) Close() error {
	err := t.shutdown()
	if t.started.Load() {
		<-t.readDone
	}
	return err
}

func (t *RawSocketConn) shutdown() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
