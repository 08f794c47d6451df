package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"autopinner/internal/core"
)

// RedisSink publishes events as JSON on a pub/sub channel so external
// dashboards can follow the worker.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to the server at rawURL (redis://host:port/db).
func NewRedisSink(rawURL, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opts), channel: channel}, nil
}

// Ping verifies the connection.
func (r *RedisSink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSink) Deliver(ctx context.Context, e core.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
