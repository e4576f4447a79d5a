package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"mini-wamp/registry"
)

// recorder is a Receiver that remembers what it was given.
type recorder struct {
	mu     sync.Mutex
	msgs   []string
	got    chan struct{}
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 1024), closed: make(chan error, 1)}
}

func (r *recorder) OnMessage(data []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(data))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) OnClose(err error) { r.closed <- err }

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	return nil
}

func TestPipeOrderAndClose(t *testing.T) {
	a, b := Pipe()
	rb := newRecorder()

	// Messages sent before Start are queued, not lost.
	for i := 0; i < 3; i++ {
		if err := a.Send(context.Background(), []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Start(rb); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(rb); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expect ErrAlreadyStarted, got %v", err)
	}
	for i := 3; i < 50; i++ {
		a.Send(context.Background(), []byte(fmt.Sprintf("m%d", i)))
	}

	msgs := rb.wait(t, 50)
	for i, m := range msgs {
		if m != fmt.Sprintf("m%d", i) {
			t.Fatalf("out of order at %d: %s", i, m)
		}
	}

	ra := newRecorder()
	a.Start(ra)
	a.Close()
	if err := ra.waitClosed(t); !errors.Is(err, ErrClosed) {
		t.Fatalf("closing side should see ErrClosed, got %v", err)
	}
	if err := rb.waitClosed(t); !errors.Is(err, io.EOF) {
		t.Fatalf("peer should see EOF, got %v", err)
	}
	if err := a.Send(context.Background(), []byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close should fail, got %v", err)
	}
	if err := b.Send(context.Background(), []byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after peer close should fail, got %v", err)
	}
}

func TestPipeSendHonoursContext(t *testing.T) {
	a, _ := Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

func TestRawSocketRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := DialConfig{KeepAlive: 10 * time.Millisecond, Logger: zaptest.NewLogger(t)}
	accepted := make(chan *RawSocketConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- NewRawSocketConn(conn, cfg)
	}()

	client, err := DialRawSocket(context.Background(), ln.Addr().String(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	server := <-accepted

	rs := newRecorder()
	rc := newRecorder()
	server.Start(rs)
	client.Start(rc)

	// Concurrent senders must never interleave frames.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := client.Send(context.Background(), []byte(fmt.Sprintf(`[2,"c%d","p"]`, n))); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	msgs := rs.wait(t, 20)
	for _, m := range msgs {
		if !strings.HasPrefix(m, `[2,"c`) {
			t.Fatalf("corrupted frame: %q", m)
		}
	}

	// Let a few heartbeats pass; they must not surface as messages.
	time.Sleep(50 * time.Millisecond)
	server.Send(context.Background(), []byte(`[3,"c1",5]`))
	if got := rc.wait(t, 1); got[0] != `[3,"c1",5]` {
		t.Fatalf("unexpected message %q", got[0])
	}

	client.Close()
	if err := rc.waitClosed(t); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if err := rs.waitClosed(t); err == nil {
		t.Fatal("server side should observe the close")
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"wamp"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Echo router: sends WELCOME, then echoes everything back.
		ws.WriteMessage(websocket.TextMessage, []byte(`[0,"s1",1,"test"]`))
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			ws.WriteMessage(mt, data)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := DialWebSocket(context.Background(), url, DialConfig{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	rc := newRecorder()
	if err := conn.Start(rc); err != nil {
		t.Fatal(err)
	}
	conn.Send(context.Background(), []byte(`[5,"topic"]`))

	got := rc.wait(t, 2)
	if got[0] != `[0,"s1",1,"test"]` || got[1] != `[5,"topic"]` {
		t.Fatalf("unexpected messages: %v", got)
	}

	conn.Close()
	if err := rc.waitClosed(t); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestDialWebSocketRetriesThenFails(t *testing.T) {
	cfg := DialConfig{
		MaxRetryCount:    2,
		MinRetryInterval: time.Millisecond,
		MaxRetryInterval: 2 * time.Millisecond,
		HandshakeTimeout: 200 * time.Millisecond,
		Logger:           zaptest.NewLogger(t),
	}
	start := time.Now()
	_, err := DialWebSocket(context.Background(), "ws://127.0.0.1:1/ws", cfg)
	if err == nil {
		t.Fatal("expect dial failure")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retries took too long")
	}
}

func TestDialerFailsOver(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	reg.Register(ctx, "realm1", registry.Endpoint{Addr: "bad", Transport: KindRawSocket}, 10)
	reg.Register(ctx, "realm1", registry.Endpoint{Addr: "good", Transport: KindRawSocket}, 10)

	var tried []string
	d := &Dialer{
		Registry: reg,
		Config:   DialConfig{Logger: zaptest.NewLogger(t)},
		dial: func(ctx context.Context, ep registry.Endpoint, cfg DialConfig) (Connection, error) {
			tried = append(tried, ep.Addr)
			if ep.Addr == "bad" {
				return nil, errors.New("refused")
			}
			a, _ := Pipe()
			return a, nil
		},
	}

	for i := 0; i < 2; i++ {
		tried = nil
		conn, ep, err := d.DialRealm(ctx, "realm1")
		if err != nil {
			t.Fatal(err)
		}
		if conn == nil || ep.Addr != "good" {
			t.Fatalf("expect good endpoint, got %v", ep)
		}
		if tried[len(tried)-1] != "good" {
			t.Fatalf("unexpected dial order %v", tried)
		}
	}
}

func TestDialerNoEndpoints(t *testing.T) {
	d := &Dialer{Registry: registry.NewMemoryRegistry()}
	_, _, err := d.DialRealm(context.Background(), "empty")
	if !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}
}

func TestDialerAffinityIsSticky(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	for _, addr := range []string{"r1", "r2", "r3"} {
		reg.Register(ctx, "realm1", registry.Endpoint{Addr: addr}, 10)
	}
	d := &Dialer{
		Registry:    reg,
		AffinityKey: "client-42",
		dial: func(ctx context.Context, ep registry.Endpoint, cfg DialConfig) (Connection, error) {
			a, _ := Pipe()
			return a, nil
		},
	}
	_, first, err := d.DialRealm(ctx, "realm1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, ep, _ := d.DialRealm(ctx, "realm1")
		if ep.Addr != first.Addr {
			t.Fatalf("affinity broken: %s then %s", first.Addr, ep.Addr)
		}
	}
}

func TestDialUnknownTransport(t *testing.T) {
	if _, err := Dial(context.Background(), registry.Endpoint{Addr: "x", Transport: "carrier-pigeon"}, DialConfig{}); err == nil {
		t.Fatal("expect error for unknown transport")
	}
}

// slowCloser takes its time in OnClose.
type slowCloser struct{ closed atomic.Bool }

func (r *slowCloser) OnMessage([]byte) {}

func (r *slowCloser) OnClose(error) {
	time.Sleep(20 * time.Millisecond)
	r.closed.Store(true)
}

func TestCloseWaitsForReceiver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()
	raw, err := DialRawSocket(context.Background(), ln.Addr().String(), DialConfig{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	pipe, _ := Pipe()

	for name, conn := range map[string]Connection{"pipe": pipe, "rawsocket": raw} {
		r := &slowCloser{}
		if err := conn.Start(r); err != nil {
			t.Fatal(err)
		}
		conn.Close()
		if !r.closed.Load() {
			t.Fatalf("%s: Close returned before OnClose finished", name)
		}
		// A second Close has nothing left to wait for.
		conn.Close()
	}
}

func TestCloseBeforeStartDoesNotBlock(t *testing.T) {
	a, _ := Pipe()
	a.Close()
	if err := a.Start(newRecorder()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	a.Close()
}

func TestDialConfigIsZero(t *testing.T) {
	if !(DialConfig{}).IsZero() {
		t.Fatal("empty config should be zero")
	}
	if DefaultDialConfig().IsZero() || (DialConfig{Header: http.Header{}}).IsZero() {
		t.Fatal("configured fields should make the config non-zero")
	}
}
