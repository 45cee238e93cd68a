package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event emitted by the access service.
type Event struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Bus fan-outs events to all active subscribers. Slow subscribers drop
// events rather than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

type subscription struct {
	ch     chan Event
	topics map[string]struct{}
}

// NewBus initialises an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a subscriber for the given topics (all topics when none
// are given) and returns a channel which will receive events. The channel is
// closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) <-chan Event {
	ch := make(chan Event, 16)
	var filter map[string]struct{}
	if len(topics) > 0 {
		filter = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{ch: ch, topics: filter}
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

// Publish fan-outs the event to all matching subscribers without blocking.
func (b *Bus) Publish(topic string, payload map[string]any) {
	evt := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
