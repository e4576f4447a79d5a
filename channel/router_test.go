package channel

import (
	"context"
	"sync"
	"testing"

	"mini-wamp/codec"
	"mini-wamp/cra"
	"mini-wamp/message"
	"mini-wamp/transport"
)

// fakeRouter is a minimal WAMP v1 router for one session: it greets, answers a few
// procedures, runs the CRA handshake and fans publications back to its one client.
type fakeRouter struct {
	t       testing.TB
	conn    transport.Connection
	f       codec.JSONFormatter
	secret  string
	welcome bool

	mu         sync.Mutex
	subscribed map[string]bool
	challenge  string
}

const (
	procAdd    = "http://example.com/calc#add"
	procDiv    = "http://example.com/calc#div"
	procSilent = "http://example.com/silent"

	authSalt = "RANDOM_SALT"
)

func newFakeRouter(t testing.TB, conn transport.Connection) *fakeRouter {
	return &fakeRouter{
		t:          t,
		conn:       conn,
		secret:     "secret",
		welcome:    true,
		subscribed: make(map[string]bool),
	}
}

func (r *fakeRouter) start() {
	if err := r.conn.Start(r); err != nil {
		r.t.Error(err)
	}
	if r.welcome {
		r.send(int(message.TypeWelcome), "sess-1", 1, "fake-router/1.0")
	}
}

func (r *fakeRouter) send(fields ...any) {
	data, err := r.f.Encode(fields)
	if err != nil {
		panic(err)
	}
	r.conn.Send(context.Background(), data)
}

func (r *fakeRouter) OnMessage(data []byte) {
	fields, err := r.f.Decode(data)
	if err != nil {
		return
	}
	msg, err := message.Parse(r.f, fields)
	if err != nil {
		return
	}
	switch m := msg.(type) {
	case *message.Call:
		r.onCall(m)
	case *message.Subscribe:
		r.mu.Lock()
		r.subscribed[m.TopicURI] = true
		r.mu.Unlock()
	case *message.Unsubscribe:
		r.mu.Lock()
		delete(r.subscribed, m.TopicURI)
		r.mu.Unlock()
	case *message.Publish:
		r.mu.Lock()
		on := r.subscribed[m.TopicURI]
		r.mu.Unlock()
		if on && (m.ExcludeMe == nil || !*m.ExcludeMe) {
			r.send(int(message.TypeEvent), m.TopicURI, m.Event)
		}
	}
}

func (r *fakeRouter) OnClose(error) {}

func (r *fakeRouter) onCall(m *message.Call) {
	switch m.ProcURI {
	case procAdd, procDiv:
		var a, b int
		r.f.Unmarshal(m.Args[0].(message.Raw), &a)
		r.f.Unmarshal(m.Args[1].(message.Raw), &b)
		if m.ProcURI == procAdd {
			r.send(int(message.TypeCallResult), m.CallID, a+b)
			return
		}
		if b == 0 {
			r.send(int(message.TypeCallError), m.CallID, "http://example.com/error#div", "division by zero")
			return
		}
		r.send(int(message.TypeCallResult), m.CallID, a/b)

	case message.ProcAuthRequest:
		var authKey string
		r.f.Unmarshal(m.Args[0].(message.Raw), &authKey)
		challenge := `{"authid":"x1","authkey":"` + authKey + `","timestamp":"2026-10-15T10:00:00Z","sessionid":"sess-1",` +
			`"authextra":{"salt":"` + authSalt + `","iterations":100,"keylen":16}}`
		r.mu.Lock()
		r.challenge = challenge
		r.mu.Unlock()
		r.send(int(message.TypeCallResult), m.CallID, challenge)

	case message.ProcAuth:
		var sig string
		r.f.Unmarshal(m.Args[0].(message.Raw), &sig)
		r.mu.Lock()
		challenge := r.challenge
		r.mu.Unlock()
		want, _ := cra.AuthSignature(challenge, r.secret, map[string]string{"salt": authSalt, "iterations": "100", "keylen": "16"})
		if challenge == "" || sig != want {
			r.send(int(message.TypeCallError), m.CallID, "http://api.wamp.ws/error#not-authorized",
				"signature for authentication request is invalid")
			return
		}
		r.send(int(message.TypeCallResult), m.CallID, map[string]any{
			"permissions": map[string][]string{"rpc": {procAdd}, "pubsub": {"http://example.com/simple"}},
		})

	case procSilent:
	default:
		r.send(int(message.TypeCallError), m.CallID, "http://example.com/error#no-such-proc", "no such procedure")
	}
}

func (r *fakeRouter) isSubscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribed[topic]
}
