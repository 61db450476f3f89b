package events

import "sync"

// Broker is an in-memory pub/sub hub connecting pane workers and the
// primary loop to the SSE stream. Subscriber channels are buffered; a full
// channel drops events rather than blocking the publisher, so a slow UI
// client can never stall a background task.
type Broker struct {
	mu         sync.RWMutex
	subs       map[Type][]chan Event
	bufferSize int
	closed     bool
}

// wildcard subscribes a channel to every event type.
const wildcard Type = "*"

// NewBroker creates a broker with a per-subscriber buffer of size buffer.
// A buffer of 0 falls back to a small default.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{
		subs:       make(map[Type][]chan Event),
		bufferSize: buffer,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is given. The channel is closed by Unsubscribe or
// Close.
func (b *Broker) Subscribe(types ...Type) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}

	if len(types) == 0 {
		types = []Type{wildcard}
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Unsubscribe detaches a channel from all event types and closes it.
func (b *Broker) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var owned chan Event
	for t := range b.subs {
		if c := b.detach(t, ch); c != nil {
			owned = c
		}
	}
	if owned != nil {
		close(owned)
	}
}

// Publish delivers ev to all matching subscribers without blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[ev.Type] {
		select {
		case ch <- ev:
		default: // slow consumer, drop
		}
	}
	if ev.Type == wildcard {
		return
	}
	for _, ch := range b.subs[wildcard] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close publishes a shutdown event so streams can end cleanly, then closes
// every subscriber channel. Publish and Subscribe become no-ops afterwards.
func (b *Broker) Close() {
	b.Publish(Event{Type: TypeShutdown})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[<-chan Event]struct{})
	for _, chans := range b.subs {
		for _, ch := range chans {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
	b.subs = make(map[Type][]chan Event)
}

// detach removes target from one type's subscriber list and returns the
// writable end when found, leaving the channel open.
func (b *Broker) detach(t Type, target <-chan Event) chan Event {
	chans := b.subs[t]
	for i, ch := range chans {
		if ch == target {
			b.subs[t] = append(chans[:i], chans[i+1:]...)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
			return ch
		}
	}
	return nil
}
