package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/phobos/internal/logging"
)

// Event is a published message.
type Event struct {
	Topic   Topic
	Payload any
	Time    time.Time
}

// Handler receives events.
type Handler func(ctx context.Context, ev Event) error

// Bus delivers events to subscribers synchronously and in subscription order.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	nextID uint64
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report subscriber failures.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		nextID: 1,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("event")
	return b
}

// Subscription is an active subscription.
type Subscription struct {
	id      uint64
	pattern Topic
	handler Handler
	once    bool
	bus     *Bus
}

// ID returns the subscription id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Pattern returns the topic pattern.
func (s *Subscription) Pattern() Topic {
	return s.pattern
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.remove(s.id)
}

// Subscribe registers handler for topics matching pattern.
func (b *Bus) Subscribe(pattern Topic, handler Handler) (*Subscription, error) {
	return b.subscribe(pattern, handler, false)
}

// SubscribeOnce registers a handler that is removed after its first delivery.
func (b *Bus) SubscribeOnce(pattern Topic, handler Handler) (*Subscription, error) {
	return b.subscribe(pattern, handler, true)
}

func (b *Bus) subscribe(pattern Topic, handler Handler, once bool) (*Subscription, error) {
	if !pattern.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, pattern)
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      b.nextID,
		pattern: pattern,
		handler: handler,
		once:    once,
		bus:     b,
	}
	b.nextID++
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers payload to every subscriber matching t. The returned
// error joins the failures of individual subscribers; every matching
// subscriber is called regardless.
func (b *Bus) Publish(ctx context.Context, t Topic, payload any) error {
	if !t.Valid() || t.IsPattern() {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, t)
	}

	ev := Event{Topic: t, Payload: payload, Time: b.now()}

	// Snapshot so handlers may subscribe or cancel without deadlocking.
	b.mu.Lock()
	var targets []*Subscription
	for _, s := range b.subs {
		if t.Matches(s.pattern) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range targets {
		if s.once {
			s.Cancel()
		}
		if err := b.deliver(ctx, s, ev); err != nil {
			errs = append(errs, &HandlerError{SubscriptionID: s.id, Topic: t, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("subscriber panicked",
				"topic", ev.Topic.String(),
				"subscription", s.id,
				"panic", fmt.Sprint(p),
			)
			err = &PanicError{Value: p}
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		b.logger.Debug("subscriber failed", "topic", ev.Topic.String(), "subscription", s.id, "error", err)
		return err
	}
	return nil
}
