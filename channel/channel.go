// Package channel assembles one connection, its dispatch table and the RPC, PubSub and
// session facets into a single handle.
//
//	           ┌──────────── Channel ────────────┐
//	caller ──→ │ rpc.Client    pubsub.Client     │ ──Send──→ Connection ──→ router
//	           │      └── proxy.Builder ──┘      │
//	router ──→ │ proxy.Table ──→ facet handlers  │ ←─OnMessage── Connection
//	           └─────────────────────────────────┘
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-wamp/codec"
	"mini-wamp/cra"
	"mini-wamp/message"
	"mini-wamp/proxy"
	"mini-wamp/pubsub"
	"mini-wamp/registry"
	"mini-wamp/rpc"
	"mini-wamp/transport"
)

var (
	ErrChannelClosed = errors.New("channel: closed")
	// ErrEndedBeforeWelcome is returned by Open when the connection ends before the
	// router greeted the session.
	ErrEndedBeforeWelcome = errors.New("channel: connection ended before WELCOME")
)

// Factory creates channels sharing one configuration.
type Factory struct {
	cfg       Config
	formatter codec.Formatter
	log       *zap.Logger
}

func NewFactory(cfg Config) *Factory {
	cfg = cfg.withDefaults()
	return &Factory{
		cfg:       cfg,
		formatter: codec.Get(cfg.CodecType),
		log:       cfg.Logger.Named("channel"),
	}
}

// CreateChannel wires a channel onto conn. Nothing is read from conn until Open.
func (f *Factory) CreateChannel(conn transport.Connection) (*Channel, error) {
	popts := []proxy.Option{proxy.WithLogger(f.cfg.Logger)}
	if f.cfg.MissingHandler != nil {
		popts = append(popts, proxy.WithMissingHandler(f.cfg.MissingHandler))
	}
	table := proxy.NewTable(f.formatter, popts...)
	builder := proxy.NewBuilder(conn, f.formatter, table, popts...)

	rpcClient, err := rpc.NewClient(builder, f.formatter,
		rpc.WithLogger(f.cfg.Logger), rpc.WithMiddleware(f.cfg.Middlewares...))
	if err != nil {
		return nil, err
	}
	pubsubClient, err := pubsub.NewClient(builder, f.formatter, pubsub.WithLogger(f.cfg.Logger))
	if err != nil {
		return nil, err
	}

	c := &Channel{
		conn:         conn,
		table:        table,
		rpc:          rpcClient,
		pubsub:       pubsubClient,
		log:          f.log,
		openTimeout:  f.cfg.OpenTimeout,
		closeTimeout: f.cfg.CloseTimeout,
		welcomed:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	// The session facet: WELCOME only, nothing outgoing.
	if _, err := builder.Build(proxy.Descriptor{
		Name:     "session",
		Incoming: map[message.Type]proxy.Handler{message.TypeWelcome: c.onWelcome},
	}, nil); err != nil {
		return nil, err
	}

	table.OnClosed(rpcClient.ConnectionLost)
	table.OnClosed(func(error) { pubsubClient.Close() })
	table.OnClosed(c.onConnectionEnd)
	return c, nil
}

// Dial connects to ep and opens a channel on it.
func (f *Factory) Dial(ctx context.Context, ep registry.Endpoint) (*Channel, error) {
	conn, err := transport.Dial(ctx, ep, f.cfg.Dial)
	if err != nil {
		return nil, err
	}
	return f.open(ctx, conn)
}

// DialDiscovered asks d for one of realm's routers and opens a channel on it.
// A dialer with a zero Config dials with the factory's Config.Dial; otherwise its own wins.
func (f *Factory) DialDiscovered(ctx context.Context, d *transport.Dialer, realm string) (*Channel, error) {
	if d.Config.IsZero() {
		withFactory := *d
		withFactory.Config = f.cfg.Dial
		d = &withFactory
	}
	conn, ep, err := d.DialRealm(ctx, realm)
	if err != nil {
		return nil, err
	}
	f.log.Info("router selected", zap.String("realm", realm), zap.String("addr", ep.Addr))
	return f.open(ctx, conn)
}

func (f *Factory) open(ctx context.Context, conn transport.Connection) (*Channel, error) {
	c, err := f.CreateChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.Open(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Channel is one WAMP session.
type Channel struct {
	conn   transport.Connection
	table  *proxy.Table
	rpc    *rpc.Client
	pubsub *pubsub.Client
	log    *zap.Logger

	openTimeout  time.Duration
	closeTimeout time.Duration

	startOnce sync.Once
	startErr  error

	welcomeOnce sync.Once
	welcomed    chan struct{}
	welcome     message.Welcome

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

// Open starts reading from the connection and waits for the router's WELCOME.
func (c *Channel) Open(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.startErr = c.conn.Start(c.table)
	})
	if c.startErr != nil {
		return c.startErr
	}

	if _, ok := ctx.Deadline(); !ok && c.openTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.openTimeout)
		defer cancel()
	}
	select {
	case <-c.welcomed:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %v", ErrEndedBeforeWelcome, c.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) onWelcome(msg message.Message) {
	w := msg.(*message.Welcome)
	first := false
	c.welcomeOnce.Do(func() {
		c.welcome = *w
		close(c.welcomed)
		first = true
	})
	if !first {
		c.log.Warn("ignoring repeated WELCOME", zap.String("session", w.SessionID))
		return
	}
	c.log.Info("session established",
		zap.String("session", w.SessionID), zap.Int("protocol", w.ProtocolVersion), zap.String("server", w.ServerIdent))
}

func (c *Channel) onConnectionEnd(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		if c.err == nil {
			c.err = ErrChannelClosed
		}
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) RPC() *rpc.Client { return c.rpc }

func (c *Channel) PubSub() *pubsub.Client { return c.pubsub }

// Welcome returns the router's greeting. It is the zero value until Open succeeded.
func (c *Channel) Welcome() message.Welcome {
	select {
	case <-c.welcomed:
		return c.welcome
	default:
		return message.Welcome{}
	}
}

func (c *Channel) SessionID() string { return c.Welcome().SessionID }

// Done is closed when the channel becomes unusable.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the channel ended, nil while it is open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tells the router about every topic still subscribed, fails pending calls and
// closes the connection. All failures along the way are returned together.
func (c *Channel) Close() error {
	var errs error
	select {
	case <-c.done:
		c.pubsub.Close()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		errs = multierr.Append(errs, c.pubsub.Shutdown(ctx))
		cancel()
	}
	c.rpc.ConnectionLost(ErrChannelClosed)
	if err := c.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		errs = multierr.Append(errs, err)
	}
	c.onConnectionEnd(ErrChannelClosed)
	return errs
}

// Authenticate runs the WAMP-CRA handshake: request a challenge for authKey, sign it
// with secret (stretched per the challenge's authextra), and present the signature.
// It returns the permissions the router granted.
func (c *Channel) Authenticate(ctx context.Context, authKey string, authExtra map[string]any, secret string) (rpc.Result, error) {
	challengeRes, err := c.call(ctx, message.ProcAuthRequest, authKey, authExtra)
	if err != nil {
		return rpc.Result{}, fmt.Errorf("channel: auth request: %w", err)
	}
	var challenge string
	if err := challengeRes.Decode(&challenge); err != nil {
		return rpc.Result{}, fmt.Errorf("channel: auth challenge: %w", err)
	}

	extra, err := cra.ExtraFromChallenge(challenge)
	if err != nil {
		return rpc.Result{}, err
	}
	sig, err := cra.AuthSignature(challenge, secret, extra)
	if err != nil {
		return rpc.Result{}, err
	}

	perms, err := c.call(ctx, message.ProcAuth, sig)
	if err != nil {
		return rpc.Result{}, fmt.Errorf("channel: auth: %w", err)
	}
	c.log.Info("authenticated", zap.String("auth_key", authKey))
	return perms, nil
}

// call bypasses the caller's middleware chain.
func (c *Channel) call(ctx context.Context, proc string, args ...any) (rpc.Result, error) {
	call, err := c.rpc.Invoke(ctx, proc, args...)
	if err != nil {
		return rpc.Result{}, err
	}
	return call.Await(ctx)
}
