package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = KeyPrefix + "jobs"

// Queue is a JobQueue on a Redis list. Jobs are at-most-once: a worker that
// dies after Pop loses the job, which is fine for idempotent maintenance.
type Queue struct {
	client *redis.Client
	key    string
	// How long Pop blocks before handing control back to the worker loop.
	popTimeout time.Duration
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{
		client:     client,
		key:        defaultQueueKey,
		popTimeout: 5 * time.Second,
	}
}

// WithKey returns a queue sharing the client but using another list.
func (q *Queue) WithKey(key string) *Queue {
	c := *q
	c.key = key
	return &c
}

// WithPopTimeout returns a queue whose Pop gives up after d.
func (q *Queue) WithPopTimeout(d time.Duration) *Queue {
	c := *q
	c.popTimeout = d
	return &c
}

func (q *Queue) Push(ctx context.Context, job string) error {
	return q.client.RPush(ctx, q.key, job).Err()
}

// Pop waits for the oldest job. It returns redis.Nil when nothing arrived
// within the pop timeout so worker loops can observe cancellation.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	result, err := q.client.BLPop(ctx, q.popTimeout, q.key).Result()
	if err != nil {
		return "", err
	}
	// [key, element]
	return result[1], nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
