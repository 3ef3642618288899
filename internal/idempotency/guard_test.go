package idempotency

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/store/memory"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type result struct {
	Number int `json:"number"`
}

func TestGuardReplaysCompletedCommand(t *testing.T) {
	guard := NewGuard(memory.NewStore(), time.Hour)
	ctx := context.Background()
	calls := 0
	run := func() (interface{}, error) {
		calls++
		return result{Number: calls}, nil
	}

	first, replayed, err := guard.Do(ctx, "req-1", "enqueue", run)
	if err != nil || replayed {
		t.Fatalf("first call: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := guard.Do(ctx, "req-1", "enqueue", run)
	if err != nil || !replayed {
		t.Fatalf("second call: replayed=%v err=%v", replayed, err)
	}
	if string(first) != string(second) || calls != 1 {
		t.Fatalf("expected one execution and identical results, got %s %s calls=%d", first, second, calls)
	}

	if _, _, err := guard.Do(ctx, "req-1", "cancel", run); !errors.Is(err, store.ErrRequestReused) {
		t.Fatalf("expected reused request error, got %v", err)
	}
}

func TestGuardReleasesFailedCommand(t *testing.T) {
	guard := NewGuard(memory.NewStore(), time.Hour)
	ctx := context.Background()
	boom := errors.New("boom")

	if _, _, err := guard.Do(ctx, "req-1", "swap", func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected command error, got %v", err)
	}
	_, replayed, err := guard.Do(ctx, "req-1", "swap", func() (interface{}, error) { return result{Number: 1}, nil })
	if err != nil || replayed {
		t.Fatalf("expected retry to run, replayed=%v err=%v", replayed, err)
	}
}

func TestGuardRejectsInFlight(t *testing.T) {
	mem := memory.NewStore()
	guard := NewGuard(mem, time.Hour)
	ctx := context.Background()
	if _, _, err := mem.ReserveCommand(ctx, "req-1", "swap", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, _, err := guard.Do(ctx, "req-1", "swap", func() (interface{}, error) { return nil, nil }); !errors.Is(err, store.ErrRequestInFlight) {
		t.Fatalf("expected in flight, got %v", err)
	}
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	st := NewRedisStore(client, "queue_engine_test:"+uuid.NewString()+":")
	guard := NewGuard(st, time.Minute)
	calls := 0
	run := func() (interface{}, error) {
		calls++
		return result{Number: 7}, nil
	}
	requestID := uuid.NewString()
	if _, _, err := guard.Do(ctx, requestID, "enqueue", run); err != nil {
		t.Fatalf("first call: %v", err)
	}
	body, replayed, err := guard.Do(ctx, requestID, "enqueue", run)
	if err != nil || !replayed || calls != 1 {
		t.Fatalf("expected replay, replayed=%v calls=%d err=%v", replayed, calls, err)
	}
	if string(body) != `{"number":7}` {
		t.Fatalf("unexpected body %s", body)
	}
	if err := st.ReleaseCommand(ctx, requestID); err != nil {
		t.Fatalf("release: %v", err)
	}
}
