package event

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber buffer used when a caller asks for
// a non-positive size.
const DefaultQueueSize = 4

// Handler is a function that handles an event.
type Handler func(Event)

// Subscription is an observer handle returned by Subscribe. Events are read
// from C. When the buffer is full the oldest buffered event is discarded to
// make room, so a slow observer never blocks Publish.
type Subscription struct {
	id      string
	pattern string
	matcher glob.Glob

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64

	// C receives events matching the subscription pattern. It is closed on
	// Unsubscribe.
	C <-chan Event
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the topic pattern the subscription was created with.
func (s *Subscription) Pattern() string { return s.pattern }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// deliver enqueues e, dropping the oldest buffered event if needed.
func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is a non-blocking broadcast bus with bounded per-subscriber queues.
// Subscribers filter on topics ("<type>.<phase>") with glob patterns such as
// "**", "state.*" or "{state,watchdog}.*".
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	published     atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string]*Subscription),
	}
}

// Subscribe registers an observer for events whose topic matches pattern.
// An empty pattern matches everything. size bounds the observer's buffer.
func (b *Bus) Subscribe(pattern string, size int) (*Subscription, error) {
	if pattern == "" {
		pattern = "**"
	}
	matcher, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultQueueSize
	}

	ch := make(chan Event, size)
	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		matcher: matcher,
		ch:      ch,
		C:       ch,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// SubscribeAll registers an observer for every event.
func (b *Bus) SubscribeAll(size int) *Subscription {
	// "*" with '.' separators would not cross the type/phase boundary, so
	// use the super-wildcard.
	sub, _ := b.Subscribe("**", size)
	return sub
}

// SubscribeFunc registers handler for events matching pattern. The handler
// runs on its own goroutine fed by a bounded queue, so a slow handler loses
// the oldest events rather than stalling the bus. Panics in handler are
// recovered and logged. The returned subscription stops the goroutine when
// passed to Unsubscribe.
func (b *Bus) SubscribeFunc(pattern string, size int, handler Handler) (*Subscription, error) {
	sub, err := b.Subscribe(pattern, size)
	if err != nil {
		return nil, err
	}
	go func() {
		for e := range sub.C {
			safeCall(handler, e)
		}
	}()
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	_, ok := b.subscriptions[sub.id]
	delete(b.subscriptions, sub.id)
	b.mu.Unlock()

	if ok {
		sub.close()
	}
	return ok
}

// Publish delivers e to every matching subscription without blocking.
func (b *Bus) Publish(e Event) {
	b.published.Add(1)
	topic := e.Topic()

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.matcher.Match(topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(e)
	}
}

// Published returns the total number of events published on the bus.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// safeCall invokes a handler and recovers from any panics.
// Panics are logged with stack traces so one misbehaving handler cannot
// take down the process.
func safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s",
				e.Topic(), r, debug.Stack())
		}
	}()
	handler(e)
}
