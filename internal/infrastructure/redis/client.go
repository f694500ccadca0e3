// Package redis carries domain events, completion requests and maintenance
// jobs over Redis pub/sub and lists.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every channel and list this package touches.
const KeyPrefix = "flowdesk:"

// NewClient connects and pings. The caller owns the returned client.
func NewClient(ctx context.Context, address string, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		PoolSize: poolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}
	return client, nil
}
