package events

import (
	"context"
	"log/slog"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

// Sink delivers events outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.Event) error
}

// Forward drains sub into sink until ctx is done or the subscription is
// closed. Delivery failures are logged and the event is skipped.
func Forward(ctx context.Context, sub *Subscription, sink Sink, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := sink.Deliver(ctx, event); err != nil {
				logger.Error("deliver event", "sink", sink.Name(), "type", event.Type, "location_id", event.LocationID, "seq", event.Seq, "error", err)
			}
		}
	}
}

type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, event models.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("queue event", "type", event.Type, "location_id", event.LocationID, "seq", event.Seq, "affected", len(event.AffectedOwnerIDs))
	return nil
}

type NoopSink struct{}

func (NoopSink) Name() string { return "noop" }

func (NoopSink) Deliver(ctx context.Context, event models.Event) error { return nil }

// JournalSink appends every event to the hash-chained journal.
type JournalSink struct {
	Journal store.Journal
}

func (JournalSink) Name() string { return "journal" }

func (s JournalSink) Deliver(ctx context.Context, event models.Event) error {
	return s.Journal.AppendEvents(ctx, []models.Event{event})
}

// NewSink returns the in-process sink named by kind. Unknown kinds log.
func NewSink(kind string, journal store.Journal, logger *slog.Logger) Sink {
	switch kind {
	case "noop":
		return NoopSink{}
	case "journal":
		if journal != nil {
			return JournalSink{Journal: journal}
		}
		return LogSink{Logger: logger}
	default:
		return LogSink{Logger: logger}
	}
}
