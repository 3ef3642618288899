package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// flush saves the location when its committed version moved past the last
// saved one. Retired tokens written by the save are then forgotten.
func (e *Engine) flush(ctx context.Context, loc *location) error {
	if e.snapshots == nil {
		return nil
	}
	loc.flushMu.Lock()
	defer loc.flushMu.Unlock()

	snap := loc.queue.Snapshot()
	if snap.Version() == loc.flushed.Load() {
		return nil
	}
	record := snap.Export(e.opts.Now().UTC())
	if err := e.snapshots.SaveSnapshot(ctx, record); err != nil {
		e.metrics.PersistFailed()
		return fmt.Errorf("save snapshot %s: %w", snap.LocationID(), err)
	}
	loc.queue.DrainRetired(len(record.Retired))
	loc.flushed.Store(snap.Version())
	return nil
}

// FlushAll saves every dirty location, a few at a time.
func (e *Engine) FlushAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, loc := range e.each() {
		loc := loc
		g.Go(func() error {
			return e.flush(ctx, loc)
		})
	}
	return g.Wait()
}

// Persister flushes locations on a fixed interval.
type Persister struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

func NewPersister(engine *Engine, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = engine.logger
	}
	return &Persister{engine: engine, interval: interval, logger: logger}
}

// Run flushes until ctx is done, then makes one final attempt with a fresh
// deadline. Only the final failure is returned.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.engine.FlushAll(final); err != nil {
				p.logger.Error("final flush failed", "error", err)
				return err
			}
			return nil
		case <-ticker.C:
			if err := p.engine.FlushAll(ctx); err != nil {
				p.logger.Error("flush failed", "error", err)
			}
		}
	}
}
