package bus

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// defaultBuffer is the per-subscriber channel buffer size.
const defaultBuffer = 256

// publishTimeout is how long Publish waits on a full subscriber before
// dropping the event for that subscriber.
const publishTimeout = 100 * time.Millisecond

// Bus fans out events to subscribers in registration order.
// Delivery to each subscriber preserves publish order; a slow subscriber
// only drops its own events, never another subscriber's.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscription
	closed      bool

	droppedCount atomic.Uint64
}

// subscription is one registered observer.
type subscription struct {
	name string
	ch   chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers an observer and returns its receive channel.
// The name is used only for drop logging. Subscribers registered earlier
// receive each event earlier.
func (b *Bus) Subscribe(name string) <-chan Event {
	return b.SubscribeBuffered(name, defaultBuffer)
}

// SubscribeBuffered registers an observer with an explicit buffer size.
func (b *Bus) SubscribeBuffered(name string, buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		name: name,
		ch:   make(chan Event, buffer),
	}
	if b.closed {
		// Late subscribers on a closed bus get an already-closed channel.
		close(sub.ch)
		return sub.ch
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Publish delivers the event to every subscriber in registration order.
// If a subscriber's buffer is full it is given a short grace period, after
// which the event is dropped for that subscriber and counted.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		// Try immediate send first.
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full, give the receiver a chance to drain.
		select {
		case sub.ch <- event:
		case <-time.After(publishTimeout):
			count := b.droppedCount.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[bus] WARNING: subscriber %s full, dropped event (total dropped: %d): type=%s task=%s",
					sub.name, count, event.Type, event.TaskID)
			}
		}
	}
}

// DroppedCount returns the total number of per-subscriber deliveries dropped.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
