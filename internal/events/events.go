package events

import (
	"context"
	"sync"
	"time"
)

// Event kinds published by the request workflow.
const (
	RequestCreated  = "request.created"
	RequestApproved = "request.approved"
	RequestRejected = "request.rejected"
)

// Event describes a change to an asset request for the HR live feed.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	AssetID   string    `json:"assetId"`
	AssetName string    `json:"assetName,omitempty"`
	Requester string    `json:"requester,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker fans events out to all active subscribers (SSE clients).
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// NewBroker returns an empty broker. buffer sizes each subscriber channel.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when ctx ends.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans evt out to all subscribers. Slow subscribers miss events.
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of attached subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
