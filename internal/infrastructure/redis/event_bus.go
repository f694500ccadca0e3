package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-flowdesk/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	eventChannelPrefix = KeyPrefix + "events:"
	completionChannel  = KeyPrefix + "requests:complete"
)

// EventChannel is the pub/sub channel events of type t are published on.
// Subscribers wanting everything can PSUBSCRIBE "flowdesk:events:*".
func EventChannel(t domain.EventType) string {
	return eventChannelPrefix + string(t)
}

type EventBus struct {
	client *redis.Client
	logger *slog.Logger
}

func NewEventBus(client *redis.Client, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{client: client, logger: logger.With("component", "event_bus")}
}

// Publish broadcasts a committed state change as JSON.
func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, EventChannel(event.Type), payload).Err()
}

// RequestCompletion lets external systems ask for a step to be completed.
func (b *EventBus) RequestCompletion(ctx context.Context, req domain.CompletionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, completionChannel, payload).Err()
}

// SubscribeToCompletionRequests streams completion requests until ctx is
// done, then closes the channel. Malformed payloads are logged and dropped.
func (b *EventBus) SubscribeToCompletionRequests(ctx context.Context) (<-chan domain.CompletionRequest, error) {
	pubsub := b.client.Subscribe(ctx, completionChannel)

	// The subscription must be confirmed before callers publish.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan domain.CompletionRequest)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var req domain.CompletionRequest
				if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
					b.logger.Warn("dropping malformed completion request", "error", err)
					continue
				}
				select {
				case out <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
