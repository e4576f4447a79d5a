// Package pubsub is the PubSub facet of a channel: it owns the subscription registry.
//
// Subscriptions are not deduplicated. Every Subscribe is its own subscription with its own
// handler and mailbox, and receives its own copy of each event. The router only sees the
// topic: SUBSCRIBE goes out when a topic gains its first local subscription, UNSUBSCRIBE
// when it loses the last one.
//
//	dispatch ──EVENT(t)──→ registry[t] ──post──→ sub-1 mailbox ──→ handler-1
//	                                    └─post──→ sub-2 mailbox ──→ handler-2
package pubsub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-wamp/message"
	"mini-wamp/proxy"
)

var ErrClosed = errors.New("pubsub: client closed")

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPublish     = "publish"
)

// PublishOptions scope the router's fan-out of one publication. The zero value publishes
// to every subscriber. Eligible takes precedence over Exclude, which takes precedence
// over ExcludeMe, matching the PUBLISH forms on the wire.
type PublishOptions struct {
	ExcludeMe *bool
	Exclude   []string // session ids
	Eligible  []string // session ids
}

// ExcludeMe asks the router to skip (or explicitly include) the publisher.
func ExcludeMe(exclude bool) PublishOptions {
	return PublishOptions{ExcludeMe: &exclude}
}

// Exclude skips the given sessions.
func Exclude(sessionIDs ...string) PublishOptions {
	return PublishOptions{Exclude: sessionIDs}
}

// Eligible restricts delivery to eligible sessions minus exclude.
func Eligible(exclude, eligible []string) PublishOptions {
	if eligible == nil {
		eligible = []string{}
	}
	return PublishOptions{Exclude: exclude, Eligible: eligible}
}

func (o PublishOptions) args() []any {
	switch {
	case o.Eligible != nil:
		exclude := o.Exclude
		if exclude == nil {
			exclude = []string{}
		}
		return []any{exclude, o.Eligible}
	case o.Exclude != nil:
		return []any{o.Exclude}
	case o.ExcludeMe != nil:
		return []any{*o.ExcludeMe}
	}
	return nil
}

type options struct {
	logger *zap.Logger
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

type Client struct {
	proxy *proxy.ServerProxy
	u     message.Unmarshaler
	log   *zap.Logger

	// wireMu orders registry transitions with the SUBSCRIBE/UNSUBSCRIBE they cause.
	// The dispatch path never takes it.
	wireMu sync.Mutex

	mu     sync.Mutex
	topics map[string][]*Subscription
	closed bool
}

// NewClient binds the PubSub capability set through b. u decodes event payloads.
func NewClient(b *proxy.Builder, u message.Unmarshaler, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Client{
		u:      u,
		log:    o.logger.Named("pubsub"),
		topics: make(map[string][]*Subscription),
	}
	p, err := b.Build(proxy.Descriptor{
		Name: "pubsub",
		Operations: []proxy.Operation{
			{Name: opSubscribe, Kind: message.TypeSubscribe},
			{Name: opUnsubscribe, Kind: message.TypeUnsubscribe},
			{Name: opPublish, Kind: message.TypePublish},
		},
		Incoming: map[message.Type]proxy.Handler{
			message.TypeEvent: c.onEvent,
		},
	}, nil)
	if err != nil {
		return nil, err
	}
	c.proxy = p
	return c, nil
}

// Subscribe registers h for events on topicURI.
func (c *Client) Subscribe(ctx context.Context, topicURI string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("pubsub: nil handler")
	}
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(topicURI, h, c.log)
	c.topics[topicURI] = append(c.topics[topicURI], sub)
	first := len(c.topics[topicURI]) == 1
	c.mu.Unlock()

	if first {
		if _, err := c.proxy.Invoke(ctx, opSubscribe, topicURI); err != nil {
			c.mu.Lock()
			c.remove(sub)
			c.mu.Unlock()
			sub.stop()
			return nil, err
		}
		c.log.Debug("subscribed", zap.String("topic", topicURI))
	}
	return sub, nil
}

// Unsubscribe releases sub. Releasing a subscription twice is a no-op.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	c.mu.Lock()
	found, last := c.remove(sub)
	closed := c.closed
	c.mu.Unlock()
	if !found {
		return nil
	}
	sub.stop()

	if last && !closed {
		if _, err := c.proxy.Invoke(ctx, opUnsubscribe, sub.topic); err != nil {
			return err
		}
		c.log.Debug("unsubscribed", zap.String("topic", sub.topic))
	}
	return nil
}

// remove takes sub out of the registry. c.mu must be held.
func (c *Client) remove(sub *Subscription) (found, last bool) {
	subs := c.topics[sub.topic]
	for i, s := range subs {
		if s != sub {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(c.topics, sub.topic)
			return true, true
		}
		c.topics[sub.topic] = subs
		return true, false
	}
	return false, false
}

// Publish sends event to topicURI. The router applies opts; this client only puts them
// on the wire.
func (c *Client) Publish(ctx context.Context, topicURI string, event any, opts PublishOptions) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	args := append([]any{topicURI, event}, opts.args()...)
	_, err := c.proxy.Invoke(ctx, opPublish, args...)
	return err
}

// Subscriptions returns the number of live local subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, subs := range c.topics {
		n += len(subs)
	}
	return n
}

// Close releases every subscription locally. Nothing is sent: the connection is going
// away with them.
func (c *Client) Close() {
	c.release()
}

// Shutdown releases every subscription like Close, then tells the router with one
// UNSUBSCRIBE per topic. Failed sends are combined into the returned error.
func (c *Client) Shutdown(ctx context.Context) error {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	var errs error
	for _, topic := range c.release() {
		if _, err := c.proxy.Invoke(ctx, opUnsubscribe, topic); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// release stops all subscriptions and returns the topics they covered.
func (c *Client) release() []string {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	topics := c.topics
	c.topics = make(map[string][]*Subscription)
	c.mu.Unlock()

	names := make([]string, 0, len(topics))
	for topic, subs := range topics {
		names = append(names, topic)
		for _, sub := range subs {
			sub.stop()
		}
	}
	sort.Strings(names)
	return names
}

func (c *Client) onEvent(msg message.Message) {
	m := msg.(*message.Event)
	ev := Event{TopicURI: m.TopicURI, payload: m.Event, u: c.u}

	c.mu.Lock()
	subs := c.topics[m.TopicURI]
	for _, sub := range subs {
		sub.post(ev)
	}
	c.mu.Unlock()

	if len(subs) == 0 {
		c.log.Debug("event for topic without subscribers", zap.String("topic", m.TopicURI))
	}
}
