package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"qms/queue-engine/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps command records as JSON values with the idempotency TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "queue_engine:requests:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(requestID string) string {
	return s.prefix + requestID
}

func (s *RedisStore) ReserveCommand(ctx context.Context, requestID, action string, ttl time.Duration) (store.CommandRecord, bool, error) {
	record := store.CommandRecord{
		RequestID: requestID,
		Action:    action,
		Status:    store.CommandPending,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return store.CommandRecord{}, false, err
	}
	created, err := s.client.SetNX(ctx, s.key(requestID), raw, ttl).Result()
	if err != nil {
		return store.CommandRecord{}, false, err
	}
	if created {
		return record, false, nil
	}

	existing, err := s.load(ctx, requestID)
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.ReserveCommand(ctx, requestID, action, ttl)
	}
	if err != nil {
		return store.CommandRecord{}, false, err
	}
	return existing, true, nil
}

func (s *RedisStore) CompleteCommand(ctx context.Context, requestID string, response json.RawMessage) error {
	record, err := s.load(ctx, requestID)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	record.Status = store.CommandCompleted
	record.Response = response
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(requestID), raw, redis.KeepTTL).Err()
}

func (s *RedisStore) ReleaseCommand(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, s.key(requestID)).Err()
}

func (s *RedisStore) load(ctx context.Context, requestID string) (store.CommandRecord, error) {
	raw, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if err != nil {
		return store.CommandRecord{}, err
	}
	var record store.CommandRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return store.CommandRecord{}, err
	}
	return record, nil
}
