package events

import (
	"sync"
)

// GlobalKind is the special kind for subscribing to all events.
// Subscribers to this kind receive events for every work-item kind and all
// mode transitions.
const GlobalKind = "*"

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of its kind.
	Publish(event Event)
	// Subscribe returns a channel that receives events for the given kind.
	// Use GlobalKind ("*") to receive all events.
	Subscribe(kind string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(kind string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher. Global
// subscribers are held apart from the per-kind buckets, so every publish
// touches exactly two fan-out lists.
type MemoryPublisher struct {
	mu         sync.RWMutex
	byKind     map[string][]chan Event
	global     []chan Event
	bufferSize int
	closed     bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		byKind:     make(map[string][]chan Event),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends an event to subscribers of its kind and to global
// subscribers. Non-blocking: subscribers with full buffers are skipped, so a
// stalled consumer can never stall the coordinator.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}
	offer(p.byKind[event.Kind], event)
	offer(p.global, event)
}

// Subscribe returns a channel that receives events for the given kind. After
// Close the returned channel is already closed.
func (p *MemoryPublisher) Subscribe(kind string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	if kind == GlobalKind {
		p.global = append(p.global, ch)
	} else {
		p.byKind[kind] = append(p.byKind[kind], ch)
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(kind string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == GlobalKind {
		p.global = drop(p.global, ch)
		return
	}
	p.byKind[kind] = drop(p.byKind[kind], ch)
	if len(p.byKind[kind]) == 0 {
		delete(p.byKind, kind)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for kind, subs := range p.byKind {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.byKind, kind)
	}
	for _, ch := range p.global {
		close(ch)
	}
	p.global = nil
}

// SubscriberCount returns the number of subscribers for a kind.
func (p *MemoryPublisher) SubscriberCount(kind string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if kind == GlobalKind {
		return len(p.global)
	}
	return len(p.byKind[kind])
}

// offer attempts a non-blocking send to every channel in subs.
func offer(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// drop removes ch from subs and closes it. Unknown channels are ignored.
func drop(subs []chan Event, ch <-chan Event) []chan Event {
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// NopPublisher is a no-op publisher for hosts with events disabled.
type NopPublisher struct{}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher { return &NopPublisher{} }

// Publish does nothing.
func (*NopPublisher) Publish(Event) {}

// Subscribe returns a closed channel.
func (*NopPublisher) Subscribe(string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (*NopPublisher) Unsubscribe(string, <-chan Event) {}

// Close does nothing.
func (*NopPublisher) Close() {}
