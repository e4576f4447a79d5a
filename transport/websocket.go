package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"mini-wamp/codec"
)

// WebSocketConn runs WAMP over a WebSocket, one message per text frame.
type WebSocketConn struct {
	ws        *websocket.Conn
	keepAlive time.Duration
	log       *zap.Logger

	writeMu   sync.Mutex // gorilla allows one concurrent writer
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
}

// NewWebSocketConn wraps an established WebSocket.
func NewWebSocketConn(ws *websocket.Conn, cfg DialConfig) *WebSocketConn {
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.MaxMessageSize)
	return &WebSocketConn{
		ws:        ws,
		keepAlive: cfg.KeepAlive,
		log:       cfg.Logger.Named("websocket").With(zap.String("remote", ws.RemoteAddr().String())),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

// DialWebSocket connects to a router URL (ws:// or wss://) negotiating the formatter's
// subprotocol. Failed handshakes are retried up to cfg.MaxRetryCount times with
// exponential backoff; once connected nothing is ever retried.
func DialWebSocket(ctx context.Context, url string, cfg DialConfig) (*WebSocketConn, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.Named("websocket").With(zap.String("url", url))
	subprotocol := codec.Get(cfg.CodecType).Subprotocol()

	d := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	b := &backoff.Backoff{
		Min:    cfg.MinRetryInterval,
		Max:    cfg.MaxRetryInterval,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		ws, resp, err := d.DialContext(ctx, url, cfg.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			if ws.Subprotocol() != subprotocol {
				log.Warn("router did not confirm subprotocol",
					zap.String("want", subprotocol), zap.String("got", ws.Subprotocol()))
			}
			return NewWebSocketConn(ws, cfg), nil
		}
		if attempt >= cfg.MaxRetryCount {
			return nil, fmt.Errorf("websocket dial %s: %w", url, err)
		}

		wait := b.Duration()
		log.Info("dial failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *WebSocketConn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketConn) Start(r Receiver) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if c.closed.Load() {
		close(c.readDone)
		return ErrClosed
	}
	go c.readLoop(r)
	if c.keepAlive > 0 {
		go c.pingLoop(c.keepAlive)
	}
	return nil
}

func (c *WebSocketConn) readLoop(r Receiver) {
	defer close(c.readDone)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				err = ErrClosed
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", zap.Error(err))
			}
			c.shutdown()
			r.OnClose(err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		r.OnMessage(data)
	}
}

func (c *WebSocketConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		// WriteControl may run concurrently with WriteMessage.
		if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
			if !c.closed.Load() {
				c.log.Debug("ping failed", zap.Error(err))
			}
			return
		}
	}
}

// Close sends a normal close frame, closes the socket and, once started, waits until the
// receiver has seen OnClose.
func (c *WebSocketConn) Close() error {
	err := c.shutdown()
	if c.started.Load() {
		<-c.readDone
	}
	return err
}

func (c *WebSocketConn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
