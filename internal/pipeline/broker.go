package pipeline

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType enumerates the notifications the pipeline publishes.
type EventType string

// Pipeline event types.
const (
	EventJobStarted     EventType = "job:started"
	EventJobCompleted   EventType = "job:completed"
	EventJobFailed      EventType = "job:failed"
	EventJobRetry       EventType = "job:retry"
	EventMetricsUpdated EventType = "metrics:updated"
)

// Event is one observable pipeline occurrence. Metrics events carry no
// job ID; their data is the full stats snapshot.
type Event struct {
	Type  EventType       `json:"type"`
	JobID string          `json:"job_id,omitempty"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Broker fans pipeline events out to subscribers. It is safe for
// concurrent use. Publishing never blocks: events are dropped for
// subscribers whose buffers are full, so a slow observer cannot stall
// the control loop.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an event broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel that receives all subsequent events and
// an unsubscribe function. If the broker has already closed, the
// returned channel is immediately closed.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish sends an event to all subscribers with buffer room.
func (b *Broker) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscribers to avoid blocking publishers.
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored
// and later Subscribe calls return a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
