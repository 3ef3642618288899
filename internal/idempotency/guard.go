package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qms/queue-engine/internal/store"
)

// Guard makes commands safe to retry: the first call with a request ID runs
// the command and stores its JSON result, later calls get that result back.
type Guard struct {
	commands store.CommandStore
	ttl      time.Duration
}

func NewGuard(commands store.CommandStore, ttl time.Duration) *Guard {
	return &Guard{commands: commands, ttl: ttl}
}

// Do returns the command's JSON result and whether it was replayed. A failed
// command releases its request ID so the caller can retry it.
func (g *Guard) Do(ctx context.Context, requestID, action string, fn func() (interface{}, error)) (json.RawMessage, bool, error) {
	record, found, err := g.commands.ReserveCommand(ctx, requestID, action, g.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("reserve request: %w", err)
	}
	if found {
		if record.Action != action {
			return nil, false, store.ErrRequestReused
		}
		if record.Status != store.CommandCompleted {
			return nil, false, store.ErrRequestInFlight
		}
		return record.Response, true, nil
	}

	result, err := fn()
	if err != nil {
		if rerr := g.commands.ReleaseCommand(ctx, requestID); rerr != nil {
			return nil, false, fmt.Errorf("%w (release request: %v)", err, rerr)
		}
		return nil, false, err
	}
	body, err := json.Marshal(result)
	if err != nil {
		_ = g.commands.ReleaseCommand(ctx, requestID)
		return nil, false, err
	}
	if err := g.commands.CompleteCommand(ctx, requestID, body); err != nil {
		return nil, false, fmt.Errorf("complete request: %w", err)
	}
	return body, false, nil
}
