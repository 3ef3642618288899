package memory

import (
	"context"
	"testing"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

func TestSnapshotRoundTripKeepsRetiredAside(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	serving := int64(3)
	err := st.SaveSnapshot(ctx, store.Snapshot{
		Settings: models.LocationSettings{LocationID: "loc-1", SwapLimit: 8},
		State:    models.LocationState{LocationID: "loc-1", ServingNumber: &serving, NextNumber: 6},
		Tokens: []models.Token{
			{TokenID: "t4", Number: 4, Position: 0, Status: models.StatusWaiting},
			{TokenID: "t5", Number: 5, Position: 1, Status: models.StatusWaiting},
		},
		Retired: []models.Token{{TokenID: "t2", Number: 2, Status: models.StatusCompleted}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	snapshot, ok, err := st.LoadSnapshot(ctx, "loc-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(snapshot.Tokens) != 2 || snapshot.State.NextNumber != 6 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.Retired) != 0 {
		t.Fatalf("retired tokens must not be replayed")
	}
	if got := st.RetiredTokens("loc-1"); len(got) != 1 || got[0].TokenID != "t2" {
		t.Fatalf("unexpected retired tokens %+v", got)
	}

	if _, ok, _ := st.LoadSnapshot(ctx, "missing"); ok {
		t.Fatalf("expected missing location")
	}
}

func TestJournalChainsAndSkipsReplays(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	batch := []models.Event{
		{EventID: "e1", Type: models.EventTokenIssued, LocationID: "loc-1", Seq: 1, OccurredAt: at},
		{EventID: "e2", Type: models.EventServeAdvanced, LocationID: "loc-1", Seq: 2, OccurredAt: at},
	}
	if err := st.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendEvents(ctx, batch[1:]); err != nil {
		t.Fatalf("append replay: %v", err)
	}

	entries, err := st.ListEvents(ctx, "loc-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].PrevHash != entries[0].Hash {
		t.Fatalf("expected chained hashes")
	}
	if idx := store.VerifyChain(entries); idx != -1 {
		t.Fatalf("chain broken at %d", idx)
	}

	after, _ := st.ListEvents(ctx, "loc-1", 1, 10)
	if len(after) != 1 || after[0].EventID != "e2" {
		t.Fatalf("unexpected entries after seq 1: %+v", after)
	}

	if seq, err := st.LastSeq(ctx, "loc-1"); err != nil || seq != 2 {
		t.Fatalf("expected last seq 2, got %d (%v)", seq, err)
	}
	if seq, err := st.LastSeq(ctx, "loc-2"); err != nil || seq != 0 {
		t.Fatalf("expected last seq 0 for empty journal, got %d (%v)", seq, err)
	}
}

func TestCommandLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	_, found, err := st.ReserveCommand(ctx, "req-1", "enqueue", time.Minute)
	if err != nil || found {
		t.Fatalf("first reserve: found=%v err=%v", found, err)
	}
	record, found, _ := st.ReserveCommand(ctx, "req-1", "enqueue", time.Minute)
	if !found || record.Status != store.CommandPending {
		t.Fatalf("expected pending record, got %+v found=%v", record, found)
	}

	if err := st.CompleteCommand(ctx, "req-1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	record, found, _ = st.ReserveCommand(ctx, "req-1", "enqueue", time.Minute)
	if !found || record.Status != store.CommandCompleted || string(record.Response) != `{"ok":true}` {
		t.Fatalf("unexpected completed record %+v", record)
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := st.ReserveCommand(ctx, "req-1", "enqueue", time.Minute); found {
		t.Fatalf("expected expired record to be reclaimable")
	}

	if err := st.ReleaseCommand(ctx, "req-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, found, _ := st.ReserveCommand(ctx, "req-1", "enqueue", time.Minute); found {
		t.Fatalf("expected released record to be gone")
	}
}
