// Package notify distributes alert events to in-process subscribers and
// operator-facing sinks (sound, desktop notification, clipboard).
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an alert event
type EventType string

const (
	EventNews      EventType = "alert.news"
	EventHighOfDay EventType = "alert.hod"
	EventFiling    EventType = "alert.filing"
	EventWipe      EventType = "store.wiped"
)

// Event is one alert occurrence
type Event struct {
	ID        string
	Type      EventType
	Ticker    string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber receives published events
type Subscriber chan *Event

// Broker fans events out to all subscribers. Slow subscribers drop
// events rather than stall the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
}

// NewBroker creates an event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
	}
}

// Run distributes events until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe registers a new subscriber channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for distribution, stamping ID and timestamp
// when the caller left them empty.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		// Queue full, drop rather than block a polling pass
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
