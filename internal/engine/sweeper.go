package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qms/queue-engine/internal/store"
)

// Sweeper expires stale swap proposals and skips serving tokens whose call
// went unanswered.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a sweeper. A zero grace disables call expiry.
func NewSweeper(engine *Engine, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = engine.logger
	}
	return &Sweeper{engine: engine, interval: interval, grace: grace, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every active location.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.engine.opts.Now()
	for _, loc := range s.engine.each() {
		id := loc.queue.LocationID()
		expired, err := loc.swaps.ExpirePending()
		if err != nil {
			s.logger.Error("expire proposals", "location_id", id, "error", err)
		} else if len(expired) > 0 {
			s.logger.Info("proposals expired", "location_id", id, "count", len(expired))
		}

		if s.grace <= 0 {
			continue
		}
		snap := loc.queue.Snapshot()
		serving, ok := snap.Serving()
		if !ok || serving.CalledAt == nil || snap.Cursor().Paused {
			continue
		}
		if now.Sub(*serving.CalledAt) < s.grace {
			continue
		}
		_, err = loc.queue.SkipServing(serving.TokenID)
		switch {
		case err == nil:
			s.logger.Info("call expired", "location_id", id, "token_id", serving.TokenID, "number", serving.Number)
			snap = loc.queue.Snapshot()
			s.engine.metrics.ObserveLocation(id, len(snap.Waiting()), len(snap.Vacancies()))
		case errors.Is(err, store.ErrStateConflict), errors.Is(err, store.ErrNotFound):
			// the operator acted first
		default:
			s.logger.Error("skip expired call", "location_id", id, "error", err)
		}
	}
}
