package events

import (
	"sync"
	"sync/atomic"

	"github.com/zeromicro/go-zero/core/logx"
)

const defaultSubscriberBuffer = 64

// Sink receives events. Emit must not block the caller.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop returns a Sink that discards every event.
func Nop() Sink { return nopSink{} }

// Subscription is one consumer's channel on a Bus.
type Subscription struct {
	name    string
	ch      chan Event
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus fans events out to typed per-consumer channels. Delivery is
// at-most-once: a slow consumer loses events instead of stalling emitters.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer with the given buffer size.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &Subscription{name: name, ch: make(chan Event, buffer), bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Emit delivers ev to every subscriber without blocking.
func (b *Bus) Emit(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if sub.dropped.Add(1) == 1 {
				logx.Slowf("events: subscriber %s is full, dropping %s", sub.name, ev.Kind())
			}
		}
	}
}

// Close detaches all subscribers. Later emits are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
