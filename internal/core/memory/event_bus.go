package memory

import (
	"context"
	"sync"

	"go-flowdesk/internal/domain"
)

// EventBus keeps published events in memory and fans completion requests out
// to subscribers over channels.
type EventBus struct {
	mu          sync.Mutex
	events      []domain.Event
	retention   int
	subscribers []chan domain.CompletionRequest
}

type EventBusOption func(*EventBus)

// WithRetention keeps only the newest n events; zero keeps none. Without it
// every event is kept, which only suits tests.
func WithRetention(n int) EventBusOption {
	return func(b *EventBus) {
		if n < 0 {
			n = 0
		}
		b.retention = n
	}
}

func NewEventBus(opts ...EventBusOption) *EventBus {
	b := &EventBus{retention: -1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.retention < 0:
		b.events = append(b.events, event)
	case b.retention == 0:
	case len(b.events) < b.retention:
		b.events = append(b.events, event)
	default:
		copy(b.events, b.events[1:])
		b.events[len(b.events)-1] = event
	}
	return nil
}

func (b *EventBus) RequestCompletion(ctx context.Context, req domain.CompletionRequest) error {
	b.mu.Lock()
	subscribers := append([]chan domain.CompletionRequest(nil), b.subscribers...)
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SubscribeToCompletionRequests registers a subscriber until ctx is done.
// The channel is never closed; readers stop on their own ctx.
func (b *EventBus) SubscribeToCompletionRequests(ctx context.Context) (<-chan domain.CompletionRequest, error) {
	ch := make(chan domain.CompletionRequest, 16)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subscribers {
			if sub == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

// Events returns a copy of everything published so far.
func (b *EventBus) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

// EventsOfType filters Events by type.
func (b *EventBus) EventsOfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range b.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
