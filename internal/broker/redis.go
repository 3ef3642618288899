package broker

import (
	"context"

	"qms/queue-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each event on the pub/sub channel <prefix>:<location>.
type RedisSink struct {
	client redisPublisher
	prefix string
}

func NewRedisSink(client redisPublisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "queue_events"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(locationID string) string {
	return s.prefix + ":" + locationID
}

func (s *RedisSink) Deliver(ctx context.Context, event models.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.Channel(event.LocationID), data).Err()
}
