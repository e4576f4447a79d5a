package pubsub

import (
	"sync"

	"go.uber.org/zap"

	"mini-wamp/message"
)

// Event is one published payload as delivered to a subscriber.
type Event struct {
	TopicURI string
	payload  message.Raw
	u        message.Unmarshaler
}

func (e Event) Raw() message.Raw { return e.payload }

// Decode decodes the payload into v.
func (e Event) Decode(v any) error { return e.u.Unmarshal(e.payload, v) }

// Handler consumes events of one subscription, one at a time, in receive order.
type Handler func(ev Event)

// Subscription is one Subscribe call. It owns an unbounded mailbox drained by its own
// goroutine, so a slow handler only delays itself.
type Subscription struct {
	topic   string
	handler Handler
	log     *zap.Logger

	mu      sync.Mutex
	queue   []Event
	notify  chan struct{}
	stopped bool
	done    chan struct{}
}

func newSubscription(topic string, h Handler, log *zap.Logger) *Subscription {
	s := &Subscription{
		topic:   topic,
		handler: h,
		log:     log,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Subscription) Topic() string { return s.topic }

// Done is closed once the subscription has been released and its goroutine exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// post queues ev; it never blocks the dispatch path.
func (s *Subscription) post(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// stop drops undelivered events. A handler already running is left to finish.
func (s *Subscription) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.notify
			continue
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked", zap.String("topic", s.topic), zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}
