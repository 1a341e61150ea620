// Package bus is the process-local publish/subscribe hub for permission
// lifecycle events. It fans every emitted event out to all current
// subscribers in a single global order and refuses to drop events silently:
// a subscriber that cannot keep up within the delivery budget surfaces as a
// loud error to the publisher.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"permitflow/permission"
)

// ErrClosed is returned when emitting on a closed bus.
var ErrClosed = errors.New("bus: closed")

// ErrSubscriberStalled wraps delivery failures caused by a subscriber whose
// buffer stayed full past the delivery budget. Dropped lifecycle events are
// a correctness bug, so this is an error, never a silent skip.
var ErrSubscriberStalled = errors.New("bus: subscriber stalled")

const (
	defaultBuffer          = 64
	defaultDeliveryTimeout = 5 * time.Second
)

// Bus has process-wide lifetime: created once at startup, closed at
// shutdown, which completes all subscriptions.
type Bus struct {
	mu              sync.Mutex
	subs            map[*Subscription]struct{}
	closed          bool
	buffer          int
	deliveryTimeout time.Duration
}

// Option tunes bus construction.
type Option func(*Bus)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDeliveryTimeout bounds how long Emit waits on one slow subscriber
// before failing loudly.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.deliveryTimeout = d
		}
	}
}

// New builds an open bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:            make(map[*Subscription]struct{}),
		buffer:          defaultBuffer,
		deliveryTimeout: defaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one independently consumed event sequence.
type Subscription struct {
	bus      *Bus
	ch       chan permission.Event
	statuses map[permission.Status]struct{}
	name     string
	once     sync.Once
}

// Subscribe registers for every event on the bus. name identifies the
// subscriber in stall errors.
func (b *Bus) Subscribe(name string) *Subscription {
	return b.subscribe(name, nil)
}

// SubscribeByStatus registers for events whose resulting status is one of
// the given statuses.
func (b *Bus) SubscribeByStatus(name string, statuses ...permission.Status) *Subscription {
	set := make(map[permission.Status]struct{}, len(statuses))
	for _, st := range statuses {
		set[st] = struct{}{}
	}
	return b.subscribe(name, set)
}

func (b *Bus) subscribe(name string, statuses map[permission.Status]struct{}) *Subscription {
	sub := &Subscription{
		bus:      b,
		ch:       make(chan permission.Event, b.buffer),
		statuses: statuses,
		name:     name,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Events is the subscription's lazily-pulled event sequence. The channel is
// closed when the bus shuts down or the subscription is cancelled.
func (s *Subscription) Events() <-chan permission.Event {
	return s.ch
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	_, registered := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	if registered {
		s.once.Do(func() { close(s.ch) })
	}
}

// Emit delivers ev to every matching subscriber exactly once, in emission
// order. The lock is held across the fan-out so all subscribers observe the
// same global order. A subscriber whose buffer stays full past the delivery
// budget yields an ErrSubscriberStalled; remaining subscribers still receive
// the event.
func (b *Bus) Emit(ev permission.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	var errs []error
	for sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			timer := time.NewTimer(b.deliveryTimeout)
			select {
			case sub.ch <- ev:
				timer.Stop()
			case <-timer.C:
				errs = append(errs, fmt.Errorf("%w: %s did not drain within %s",
					ErrSubscriberStalled, sub.name, b.deliveryTimeout))
			}
		}
	}
	return errors.Join(errs...)
}

// Close signals completion to all subscribers. Further emits fail with
// ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
}

func (s *Subscription) matches(ev permission.Event) bool {
	if s.statuses == nil {
		return true
	}
	_, ok := s.statuses[ev.Status]
	return ok
}
