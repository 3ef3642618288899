package engine

import (
	"context"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/swap"
)

// GetMyToken answers from the last committed snapshot.
func (e *Engine) GetMyToken(ctx context.Context, locationID, ownerID string) (models.TokenView, error) {
	loc, err := e.location(locationID)
	if err != nil {
		return models.TokenView{}, err
	}
	snap := loc.queue.Snapshot()
	tok, ok := snap.TokenOf(ownerID)
	if !ok {
		return models.TokenView{}, store.ErrNoActiveToken
	}
	return e.tokenView(snap, tok), nil
}

// CanSwap reports whether the owner still has swap quota today.
func (e *Engine) CanSwap(ctx context.Context, locationID, ownerID string) (bool, error) {
	loc, err := e.location(locationID)
	if err != nil {
		return false, err
	}
	return e.tracker.CheckEligible(loc.queue.Snapshot(), ownerID), nil
}

func (e *Engine) ListQueue(ctx context.Context, locationID string) (models.LocationView, error) {
	loc, err := e.location(locationID)
	if err != nil {
		return models.LocationView{}, err
	}
	return locationView(loc.queue.Snapshot()), nil
}

func (e *Engine) ListVacancies(ctx context.Context, locationID string) ([]models.Vacancy, error) {
	loc, err := e.location(locationID)
	if err != nil {
		return nil, err
	}
	vacancies := loc.queue.Snapshot().Vacancies()
	if vacancies == nil {
		vacancies = []models.Vacancy{}
	}
	return vacancies, nil
}

// PendingSwaps lists open proposals the owner sent or received.
func (e *Engine) PendingSwaps(ctx context.Context, locationID, ownerID string) ([]models.SwapRequest, error) {
	loc, err := e.location(locationID)
	if err != nil {
		return nil, err
	}
	pending := loc.swaps.Pending(ownerID)
	if pending == nil {
		pending = []models.SwapRequest{}
	}
	return pending, nil
}

func (e *Engine) Enqueue(ctx context.Context, locationID, ownerID string) (models.TokenView, error) {
	var view models.TokenView
	err := e.command(ctx, "enqueue", locationID, func(loc *location) error {
		tok, err := loc.queue.Enqueue(ownerID)
		if err != nil {
			return err
		}
		view = e.tokenView(loc.queue.Snapshot(), tok)
		return nil
	})
	return view, err
}

// PerformSwap asks to jump ahead of the holder of targetNumber.
// targetPosition is the position the caller last saw for that number, or
// models.NoPosition to skip the check.
func (e *Engine) PerformSwap(ctx context.Context, locationID, ownerID string, targetNumber int64, targetPosition int, reason string) (models.SwapResult, error) {
	return e.JumpAhead(ctx, locationID, swap.JumpAheadInput{
		RequesterID:    ownerID,
		TargetNumbers:  []int64{targetNumber},
		TargetPosition: targetPosition,
		Reason:         reason,
	})
}

// JumpAhead is PerformSwap with several acceptable targets; the foremost
// one that is still ahead of the requester wins.
func (e *Engine) JumpAhead(ctx context.Context, locationID string, in swap.JumpAheadInput) (models.SwapResult, error) {
	var result models.SwapResult
	err := e.command(ctx, "perform_swap", locationID, func(loc *location) error {
		req, err := loc.swaps.ProposeJumpAhead(in)
		if err != nil {
			return err
		}
		result.Request = req
		result.View = e.ownerView(loc, in.RequesterID)
		return nil
	})
	return result, err
}

func (e *Engine) RespondSwap(ctx context.Context, locationID, requestID, ownerID string, accept bool) (models.SwapResult, error) {
	var result models.SwapResult
	err := e.command(ctx, "respond_swap", locationID, func(loc *location) error {
		req, err := loc.swaps.Respond(requestID, ownerID, accept)
		if err != nil {
			return err
		}
		result.Request = req
		result.View = e.ownerView(loc, ownerID)
		return nil
	})
	return result, err
}

// SnoozeQueue moves the owner to the tail without spending quota.
func (e *Engine) SnoozeQueue(ctx context.Context, locationID, ownerID string) (models.TokenView, error) {
	return e.moveBack(ctx, "snooze", locationID, ownerID, models.NoPosition)
}

// MoveBack moves the owner behind the token currently at slot.
func (e *Engine) MoveBack(ctx context.Context, locationID, ownerID string, slot int) (models.TokenView, error) {
	return e.moveBack(ctx, "move_back", locationID, ownerID, slot)
}

func (e *Engine) moveBack(ctx context.Context, op, locationID, ownerID string, slot int) (models.TokenView, error) {
	var view models.TokenView
	err := e.command(ctx, op, locationID, func(loc *location) error {
		tok, err := loc.swaps.MoveBack(ownerID, slot)
		if err != nil {
			return err
		}
		view = e.tokenView(loc.queue.Snapshot(), tok)
		return nil
	})
	return view, err
}

func (e *Engine) ClaimVacant(ctx context.Context, locationID, ownerID string, vacancyNumber int64) (models.TokenView, error) {
	var view models.TokenView
	err := e.command(ctx, "claim_vacant", locationID, func(loc *location) error {
		tok, err := loc.swaps.ClaimVacant(ownerID, vacancyNumber)
		if err != nil {
			return err
		}
		view = e.tokenView(loc.queue.Snapshot(), tok)
		return nil
	})
	return view, err
}

// MarkCompleted is the owner's voluntary leave.
func (e *Engine) MarkCompleted(ctx context.Context, locationID, ownerID string) (models.Token, error) {
	var tok models.Token
	err := e.command(ctx, "mark_completed", locationID, func(loc *location) error {
		var err error
		tok, err = loc.queue.Leave(ownerID)
		return err
	})
	return tok, err
}

func (e *Engine) Rejoin(ctx context.Context, locationID, ownerID string) (models.TokenView, error) {
	var view models.TokenView
	err := e.command(ctx, "rejoin", locationID, func(loc *location) error {
		tok, err := loc.queue.Rejoin(ownerID)
		if err != nil {
			return err
		}
		view = e.tokenView(loc.queue.Snapshot(), tok)
		return nil
	})
	return view, err
}

// AdvanceServing calls the next token. A nil token means the line is empty.
func (e *Engine) AdvanceServing(ctx context.Context, locationID string) (*models.Token, error) {
	var next *models.Token
	err := e.command(ctx, "advance_serving", locationID, func(loc *location) error {
		var err error
		next, err = loc.queue.AdvanceServing()
		return err
	})
	return next, err
}

// SkipServing parks the serving token as snoozed and calls the next one.
func (e *Engine) SkipServing(ctx context.Context, locationID string) (models.Token, error) {
	var skipped models.Token
	err := e.command(ctx, "skip_serving", locationID, func(loc *location) error {
		var err error
		skipped, err = loc.queue.SkipServing("")
		return err
	})
	return skipped, err
}

// Cancel is the operator removal of a waiting token.
func (e *Engine) Cancel(ctx context.Context, locationID, tokenID string) (models.Token, error) {
	var tok models.Token
	err := e.command(ctx, "cancel", locationID, func(loc *location) error {
		var err error
		tok, err = loc.queue.Cancel(tokenID)
		return err
	})
	return tok, err
}

func (e *Engine) Pause(ctx context.Context, locationID string) (models.LocationView, error) {
	return e.control(ctx, "pause", locationID, func(loc *location) error { return loc.queue.Pause() })
}

func (e *Engine) Resume(ctx context.Context, locationID string) (models.LocationView, error) {
	return e.control(ctx, "resume", locationID, func(loc *location) error { return loc.queue.Resume() })
}

func (e *Engine) Close(ctx context.Context, locationID string) (models.LocationView, error) {
	return e.control(ctx, "close", locationID, func(loc *location) error { return loc.queue.Close() })
}

func (e *Engine) control(ctx context.Context, op, locationID string, fn func(loc *location) error) (models.LocationView, error) {
	var view models.LocationView
	err := e.command(ctx, op, locationID, func(loc *location) error {
		if err := fn(loc); err != nil {
			return err
		}
		view = locationView(loc.queue.Snapshot())
		return nil
	})
	return view, err
}

func (e *Engine) ownerView(loc *location, ownerID string) models.TokenView {
	snap := loc.queue.Snapshot()
	tok, ok := snap.TokenOf(ownerID)
	if !ok {
		return models.TokenView{Position: models.NoPosition, Quota: e.tracker.Usage(snap, ownerID)}
	}
	return e.tokenView(snap, tok)
}
