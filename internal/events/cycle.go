package events

import (
	"sync"

	"github.com/vadiminshakov/autotrade/internal/domain"
)

// CycleBroadcaster fans out finished cycle summaries to all subscribers via
// buffered channels.
type CycleBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.CycleSummary]struct{}
	buffer int
}

// NewCycleBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewCycleBroadcaster(buffer int) *CycleBroadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &CycleBroadcaster{
		subs:   make(map[chan domain.CycleSummary]struct{}),
		buffer: buffer,
	}
}

// Publish sends the summary to all subscribers, dropping it for slow readers.
func (b *CycleBroadcaster) Publish(s domain.CycleSummary) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives summaries until Unsubscribe is called.
func (b *CycleBroadcaster) Subscribe() chan domain.CycleSummary {
	ch := make(chan domain.CycleSummary, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *CycleBroadcaster) Unsubscribe(ch chan domain.CycleSummary) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
