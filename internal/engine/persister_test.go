package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/store/memory"
	"qms/queue-engine/internal/swap"
)

func TestFlushAndRestore(t *testing.T) {
	mem := memory.NewStore()
	e, _ := newTestEngine(t, mem, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a", "b", "c")
	ctx := context.Background()

	if _, err := e.MarkCompleted(ctx, "loc-1", "b"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := e.PerformSwap(ctx, "loc-1", "c", 1, 0, "late"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := e.Deactivate(ctx, "loc-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if retired := mem.RetiredTokens("loc-1"); len(retired) != 1 || retired[0].OwnerID != "b" {
		t.Fatalf("expected b persisted as retired, got %+v", retired)
	}

	restored, _ := newTestEngine(t, mem, swap.ConsentAuto)
	activate(t, restored, models.LocationSettings{})
	view, err := restored.GetMyToken(ctx, "loc-1", "c")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if view.Position != 0 || view.Quota.Used != 1 {
		t.Fatalf("unexpected restored view: %+v", view)
	}
	vacancies, _ := restored.ListVacancies(ctx, "loc-1")
	if len(vacancies) != 1 || vacancies[0].Number != 2 {
		t.Fatalf("expected vacancy 2 restored, got %+v", vacancies)
	}
	tok, err := restored.Enqueue(ctx, "loc-1", "d")
	if err != nil || tok.Number != 4 {
		t.Fatalf("expected numbering to continue at 4, got %+v %v", tok, err)
	}
}

func TestFlushSkipsCleanLocations(t *testing.T) {
	saves := 0
	e, _ := newTestEngine(t, fakeSnapshots{save: func(ctx context.Context, snapshot store.Snapshot) error {
		saves++
		return nil
	}}, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	ctx := context.Background()

	if err := e.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if saves != 0 {
		t.Fatalf("expected no save for an untouched location, got %d", saves)
	}
	join(t, e, "a")
	for i := 0; i < 2; i++ {
		if err := e.FlushAll(ctx); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}
	if saves != 1 {
		t.Fatalf("expected one save, got %d", saves)
	}
}

func TestFlushFailureKeepsRetiredTokens(t *testing.T) {
	failing := true
	var saved store.Snapshot
	e, _ := newTestEngine(t, fakeSnapshots{save: func(ctx context.Context, snapshot store.Snapshot) error {
		if failing {
			return errors.New("connection refused")
		}
		saved = snapshot
		return nil
	}}, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a", "b")
	ctx := context.Background()
	if _, err := e.MarkCompleted(ctx, "loc-1", "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if err := e.FlushAll(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	loc, _ := e.location("loc-1")
	if len(loc.queue.Snapshot().Retired()) != 1 {
		t.Fatalf("retired tokens must survive a failed flush")
	}

	failing = false
	if err := e.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(saved.Retired) != 1 || saved.Retired[0].OwnerID != "a" {
		t.Fatalf("expected retired token saved, got %+v", saved.Retired)
	}
	if len(loc.queue.Snapshot().Retired()) != 0 {
		t.Fatalf("expected retired tokens drained after save")
	}
}

func TestPersisterFinalFlush(t *testing.T) {
	mem := memory.NewStore()
	e, _ := newTestEngine(t, mem, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewPersister(e, time.Hour, nil).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	snapshot, ok, err := mem.LoadSnapshot(context.Background(), "loc-1")
	if err != nil || !ok || len(snapshot.Tokens) != 1 {
		t.Fatalf("expected final flush to save the location, got %+v %v %v", snapshot, ok, err)
	}
}

// journalPending appends every event waiting on sub and returns how many.
func journalPending(t *testing.T, sub *events.Subscription, journal store.Journal) int {
	t.Helper()
	n := 0
	for len(sub.C) > 0 {
		if err := journal.AppendEvents(context.Background(), []models.Event{<-sub.C}); err != nil {
			t.Fatalf("append: %v", err)
		}
		n++
	}
	return n
}

func TestRestoreResumesAfterJournalHead(t *testing.T) {
	mem := memory.NewStore()
	ctx := context.Background()

	e, _ := newTestEngine(t, mem, swap.ConsentAuto)
	e.opts.Journal = mem
	sub := e.Events().Subscribe(events.Filter{})
	activate(t, e, models.LocationSettings{})
	join(t, e, "a")
	written := journalPending(t, sub, mem)
	if err := e.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Journaled but never snapshotted.
	join(t, e, "b", "c", "d")
	written += journalPending(t, sub, mem)

	restored, _ := newTestEngine(t, mem, swap.ConsentAuto)
	restored.opts.Journal = mem
	restoredSub := restored.Events().Subscribe(events.Filter{})
	activate(t, restored, models.LocationSettings{})
	join(t, restored, "e")
	written += journalPending(t, restoredSub, mem)

	entries, err := mem.ListEvents(ctx, "loc-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != written {
		t.Fatalf("expected %d journal entries, got %d", written, len(entries))
	}
	last := entries[len(entries)-1]
	if last.Type != models.EventTokenIssued || last.Seq != uint64(written) {
		t.Fatalf("expected the post-restore event journaled last, got %+v", last)
	}
	if idx := store.VerifyChain(entries); idx != -1 {
		t.Fatalf("chain broken at %d", idx)
	}
}

func TestDeactivateRejectsLateCommands(t *testing.T) {
	mem := memory.NewStore()
	e, _ := newTestEngine(t, mem, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a")
	ctx := context.Background()

	// A command that looked the location up before it was deactivated.
	loc, err := e.location("loc-1")
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if err := e.Deactivate(ctx, "loc-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := loc.queue.Enqueue("late"); !errors.Is(err, store.ErrLocationNotFound) {
		t.Fatalf("expected location not found, got %v", err)
	}

	restored, _ := newTestEngine(t, mem, swap.ConsentAuto)
	activate(t, restored, models.LocationSettings{})
	if _, err := restored.GetMyToken(ctx, "loc-1", "a"); err != nil {
		t.Fatalf("expected a restored: %v", err)
	}
	if _, err := restored.GetMyToken(ctx, "loc-1", "late"); err == nil {
		t.Fatalf("expected no token for a command after deactivate")
	}
}
