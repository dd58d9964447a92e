// Package api exposes the recorder's output over HTTP: a live-stats
// snapshot, a WebSocket stroke stream and the stored session listing.
package api

import (
	"sync"

	"github.com/fluidrower/rowmon/internal/session"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind is dropped rather than allowed to stall the monitor
// loop.
const subscriberBuffer = 100

// Sample is one live update: the stroke that was just recorded and a
// snapshot of the session statistics after it.
type Sample struct {
	Stroke session.Stroke `json:"stroke"`
	Stats  session.Stats  `json:"stats"`
}

// Broadcaster fans live samples out to any number of subscribers. Publish
// never blocks; it is called synchronously from the monitor read loop.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Sample]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Sample]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called when the subscriber is done; it is safe to call after the
// subscriber was dropped for being slow.
func (b *Broadcaster) Subscribe() (<-chan Sample, func()) {
	ch := make(chan Sample, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() { b.drop(ch) }
}

// Publish delivers a sample to every subscriber. Subscribers with a full
// buffer are dropped and their channel closed.
func (b *Broadcaster) Publish(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) drop(ch chan Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
