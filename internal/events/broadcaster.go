package events

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// deliveries to it are dropped.
const subscriberBuffer = 64

// Subscriber receives every emitted event until it is unsubscribed.
type Subscriber chan Event

// Broadcaster fans events out to subscribers without ever blocking the
// emitter. A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[Subscriber]struct{}
	dropped atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[Subscriber]struct{})}
}

func (b *Broadcaster) Subscribe() Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes sub. Unknown or already closed subscribers are ignored.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

var broadcaster = NewBroadcaster()

func Subscribe() Subscriber { return broadcaster.Subscribe() }

func Unsubscribe(sub Subscriber) { broadcaster.Unsubscribe(sub) }

// CloseAllSubscribers ends every stream, e.g. on shutdown so websocket
// writers return.
func CloseAllSubscribers() { broadcaster.CloseAll() }

func SubscriberCount() int { return broadcaster.Count() }

// DroppedCount reports deliveries lost to slow subscribers since start.
func DroppedCount() int64 { return broadcaster.Dropped() }

// RecentEvents returns up to n of the newest buffered events, oldest first.
func RecentEvents(n int) []Event {
	return buffer.Last(n)
}
