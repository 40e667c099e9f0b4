package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"main/internal/model"
)

// EventType identifies the payload carried by an Event.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventPriceTick
	EventCandleOpened
	EventCandleUpdated
	EventCandleClosed
)

func (t EventType) String() string {
	switch t {
	case EventPriceTick:
		return "price_tick"
	case EventCandleOpened:
		return "candle_opened"
	case EventCandleUpdated:
		return "candle_updated"
	case EventCandleClosed:
		return "candle_closed"
	default:
		return "unknown"
	}
}

// Event is the unit passed through the per-instrument bus. Tick is set
// for price events, Candle for candle events. At is the event time; for
// candle_closed it is the slot's close time, not wall clock.
type Event struct {
	Type       EventType
	Instrument string
	Tick       model.PriceTick
	Candle     model.Candle
	At         time.Time
}

// Subscription receives events on C until Cancel is called or the bus
// closes.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	ch     chan Event
	types  map[EventType]struct{}
	cancel sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an in-process publish/subscribe channel for one instrument.
// Publish never blocks: a subscriber whose buffer is full loses the
// event and the drop counter advances.
type Bus struct {
	instrument string
	buffer     int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	drops  atomic.Uint64
}

// New creates a bus for one instrument with the given per-subscriber
// buffer capacity.
func New(instrument string, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		instrument: instrument,
		buffer:     buffer,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Instrument returns the instrument this bus carries events for.
func (b *Bus) Instrument() string {
	return b.instrument
}

// Subscribe registers a consumer for the given event types, or for all
// events when none are named.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.buffer),
	}
	sub.C = sub.ch
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish fans the event out to matching subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.Instrument == "" {
		e.Instrument = b.instrument
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.drops.Add(1)
		}
	}
}

// Drops reports how many events were lost to full subscriber buffers.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}

// Close shuts the bus down and closes all subscriber channels. It is
// idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, sub)
	}
	// closing outside the lock keeps a concurrent Cancel, which takes
	// the lock inside its own once, from deadlocking against us
	b.mu.Unlock()
	for _, sub := range subs {
		sub.cancel.Do(func() { close(sub.ch) })
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}
