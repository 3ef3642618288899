package engine

import (
	"context"
	"testing"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/swap"
)

func TestSweeperSkipsUnansweredCall(t *testing.T) {
	e, clock := newTestEngine(t, nil, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a", "b")
	ctx := context.Background()
	if _, err := e.AdvanceServing(ctx, "loc-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	sweeper := NewSweeper(e, time.Second, time.Minute, nil)

	clock.Advance(30 * time.Second)
	sweeper.Sweep(ctx)
	if view, _ := e.GetMyToken(ctx, "loc-1", "a"); view.Status != models.StatusServing {
		t.Fatalf("call within grace must stand, got %s", view.Status)
	}

	clock.Advance(31 * time.Second)
	sweeper.Sweep(ctx)
	a, _ := e.GetMyToken(ctx, "loc-1", "a")
	b, _ := e.GetMyToken(ctx, "loc-1", "b")
	if a.Status != models.StatusSnoozed || b.Status != models.StatusServing {
		t.Fatalf("expected a snoozed and b called, got %s and %s", a.Status, b.Status)
	}
}

func TestSweeperLeavesPausedLocation(t *testing.T) {
	e, clock := newTestEngine(t, nil, swap.ConsentAuto)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a", "b")
	ctx := context.Background()
	if _, err := e.AdvanceServing(ctx, "loc-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := e.Pause(ctx, "loc-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	clock.Advance(time.Hour)
	NewSweeper(e, time.Second, time.Minute, nil).Sweep(ctx)
	if view, _ := e.GetMyToken(ctx, "loc-1", "a"); view.Status != models.StatusServing {
		t.Fatalf("paused location must not be swept, got %s", view.Status)
	}
}

func TestSweeperExpiresProposals(t *testing.T) {
	e, clock := newTestEngine(t, nil, swap.ConsentMutual)
	activate(t, e, models.LocationSettings{})
	join(t, e, "a", "b")
	ctx := context.Background()

	proposed, err := e.PerformSwap(ctx, "loc-1", "b", 1, models.NoPosition, "meeting")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	clock.Advance(2 * time.Minute)
	NewSweeper(e, time.Second, 0, nil).Sweep(ctx)

	pending, _ := e.PendingSwaps(ctx, "loc-1", "a")
	if len(pending) != 0 {
		t.Fatalf("expected proposal expired, got %+v", pending)
	}
	if _, err := e.RespondSwap(ctx, "loc-1", proposed.Request.RequestID, "a", true); err == nil {
		t.Fatalf("expected expired proposal to be gone")
	}
}
