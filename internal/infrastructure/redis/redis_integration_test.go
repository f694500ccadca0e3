//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go-flowdesk/internal/domain"
	infraredis "go-flowdesk/internal/infrastructure/redis"
	"go-flowdesk/internal/testsupport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := infraredis.NewClient(ctx, endpoint, 10)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := infraredis.NewQueue(setupRedis(t)).WithPopTimeout(time.Second)

	jobs := []string{
		domain.NewJob(domain.JobReconcile, "alice"),
		domain.NewJob(domain.JobRepair, uuid.NewString()),
	}
	for _, job := range jobs {
		require.NoError(t, q.Push(ctx, job))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, want := range jobs {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestQueuesAreIsolatedByKey(t *testing.T) {
	ctx := context.Background()
	base := infraredis.NewQueue(setupRedis(t)).WithPopTimeout(time.Second)
	other := base.WithKey(infraredis.KeyPrefix + "other")

	require.NoError(t, other.Push(ctx, "reconcile:bob"))
	n, err := base.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventsArePublishedPerType(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)
	bus := infraredis.NewEventBus(client, testsupport.DiscardLogger())

	sub := client.PSubscribe(ctx, infraredis.KeyPrefix+"events:*")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := domain.Event{Type: domain.EventStepAssigned, InstanceID: uuid.New(), AssignedTo: "alice"}
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, infraredis.EventChannel(domain.EventStepAssigned), msg.Channel)
		var got domain.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.InstanceID, got.InstanceID)
		assert.Equal(t, "alice", got.AssignedTo)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestCompletionRequestsRoundTrip(t *testing.T) {
	client := setupRedis(t)
	bus := infraredis.NewEventBus(client, testsupport.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	requests, err := bus.SubscribeToCompletionRequests(ctx)
	require.NoError(t, err)

	// Garbage is dropped, the next request still arrives.
	require.NoError(t, client.Publish(ctx, infraredis.KeyPrefix+"requests:complete", "{not json").Err())
	want := domain.CompletionRequest{AssignmentID: uuid.New(), Actor: "webhook"}
	require.NoError(t, bus.RequestCompletion(ctx, want))

	select {
	case got := <-requests:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion request received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-requests
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
