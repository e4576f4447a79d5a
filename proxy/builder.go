package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mini-wamp/codec"
	"mini-wamp/message"
	"mini-wamp/transport"
)

// Pending is the handle a Registrar returns for a call awaiting its reply.
type Pending interface {
	ID() string
}

// Registrar owns the pending entries of reply-expecting operations. Register is called
// before the message is transmitted so a fast reply always finds its entry.
type Registrar interface {
	Register(callID string) (Pending, error)
	Unregister(callID string)
}

type options struct {
	logger  *zap.Logger
	missing MissingHandler
	ids     *IDGenerator
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMissingHandler replaces the default handler for unclaimed inbound kinds, which logs
// a warning and keeps the connection open.
func WithMissingHandler(h MissingHandler) Option {
	return func(o *options) { o.missing = h }
}

// WithIDGenerator shares one id space between builders.
func WithIDGenerator(g *IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Builder binds capability sets to one connection and its dispatch table.
type Builder struct {
	conn      transport.Connection
	formatter codec.Formatter
	table     *Table
	ids       *IDGenerator
	log       *zap.Logger
}

func NewBuilder(conn transport.Connection, formatter codec.Formatter, table *Table, opts ...Option) *Builder {
	o := collect(opts)
	if o.ids == nil {
		o.ids = NewIDGenerator()
	}
	return &Builder{
		conn:      conn,
		formatter: formatter,
		table:     table,
		ids:       o.ids,
		log:       o.logger.Named("proxy"),
	}
}

// Build resolves desc into a ServerProxy. Every operation is mapped to its serializer and
// every incoming kind claimed in the table now; nothing is looked up by name on the wire
// path afterwards. registrar may be nil when no operation expects a reply.
func (b *Builder) Build(desc Descriptor, registrar Registrar) (*ServerProxy, error) {
	if desc.Name == "" {
		return nil, &BuildError{Reason: "capability set without a name"}
	}
	ser, err := newSerializer(desc, b.ids)
	if err != nil {
		return nil, err
	}
	for _, op := range desc.Operations {
		if op.Kind == message.TypeCall && registrar == nil {
			return nil, &BuildError{Set: desc.Name, Operation: op.Name, Reason: "expects a reply but no registrar was given"}
		}
	}
	if err := b.table.claim(desc.Name, desc.Incoming); err != nil {
		return nil, err
	}

	b.log.Debug("capability set bound", zap.String("set", desc.Name), zap.Int("operations", len(desc.Operations)))
	return &ServerProxy{
		name:       desc.Name,
		serializer: ser,
		registrar:  registrar,
		conn:       b.conn,
		formatter:  b.formatter,
		log:        b.log.With(zap.String("set", desc.Name)),
	}, nil
}

// ServerProxy invokes the operations of one capability set on the router.
type ServerProxy struct {
	name       string
	serializer *Serializer
	registrar  Registrar
	conn       transport.Connection
	formatter  codec.Formatter
	log        *zap.Logger
}

func (p *ServerProxy) Name() string { return p.name }

// Invoke serializes op and transmits it. For a CALL the returned Pending was registered
// before the first byte left; for every other kind it is nil and the send is
// fire-and-forget. Invoke never waits for a reply.
func (p *ServerProxy) Invoke(ctx context.Context, op string, args ...any) (Pending, error) {
	msg, err := p.serializer.Serialize(op, args)
	if err != nil {
		return nil, err
	}

	var pending Pending
	call, isCall := msg.(*message.Call)
	if isCall {
		pending, err = p.registrar.Register(call.CallID)
		if err != nil {
			return nil, err
		}
	}

	data, err := p.formatter.Encode(msg.Fields())
	if err == nil {
		err = p.conn.Send(ctx, data)
	}
	if err != nil {
		if isCall {
			p.registrar.Unregister(call.CallID)
		}
		p.log.Debug("send failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("proxy: %s %s: %w", p.name, op, err)
	}
	return pending, nil
}
