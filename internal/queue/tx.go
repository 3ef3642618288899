package queue

import (
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

// Tx is a pending change to one location. Every method either applies fully
// or returns an error; Update discards the whole Tx on error.
type Tx struct {
	view
	now    time.Time
	newID  func() string
	events []models.Event
	dirty  bool
}

func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) NewID() string {
	return tx.newID()
}

// Touch marks the Tx as changed without emitting an event.
func (tx *Tx) Touch() {
	tx.dirty = true
}

// Emit stamps event with the next location sequence and queues it for
// publication on commit.
func (tx *Tx) Emit(event models.Event) {
	tx.st.cursor.Seq++
	event.Seq = tx.st.cursor.Seq
	event.EventID = tx.newID()
	event.LocationID = tx.st.settings.LocationID
	event.OccurredAt = tx.now
	if event.ServingNumber == nil && tx.st.cursor.ServingNumber != nil {
		n := *tx.st.cursor.ServingNumber
		event.ServingNumber = &n
	}
	tx.events = append(tx.events, event)
	tx.dirty = true
}

func (tx *Tx) PutQuota(q models.SwapQuota) {
	tx.st.quotas[q.OwnerID] = q
	tx.dirty = true
}

func (tx *Tx) PutProposal(req models.SwapRequest) {
	tx.st.proposals[req.RequestID] = req
	tx.dirty = true
}

func (tx *Tx) DeleteProposal(requestID string) {
	delete(tx.st.proposals, requestID)
	tx.dirty = true
}

func (tx *Tx) Enqueue(ownerID string) (models.Token, error) {
	if ownerID == "" {
		return models.Token{}, store.ErrOwnerRequired
	}
	if tx.st.cursor.Closed {
		return models.Token{}, store.ErrQueueClosed
	}
	if tx.st.cursor.Paused {
		return models.Token{}, store.ErrQueuePaused
	}
	if _, ok := tx.ActiveTokenOf(ownerID); ok {
		return models.Token{}, store.ErrDuplicateActiveToken
	}
	if tx.full() {
		return models.Token{}, store.ErrQueueFull
	}
	if parked, ok := tx.SnoozedTokenOf(ownerID); ok {
		tx.dropSnoozed(parked.TokenID)
		canceled := tx.retire(parked, models.StatusCanceled)
		tx.Emit(models.Event{Type: models.EventTokenCanceled, AffectedOwnerIDs: []string{ownerID}, Token: &canceled})
	}

	tok := models.Token{
		TokenID:    tx.newID(),
		LocationID: tx.st.settings.LocationID,
		OwnerID:    ownerID,
		Number:     tx.st.cursor.NextNumber,
		Status:     models.StatusWaiting,
		IssuedAt:   tx.now,
		UpdatedAt:  tx.now,
	}
	tx.st.cursor.NextNumber++
	tx.append(tok)
	tok = tx.st.waiting[len(tx.st.waiting)-1]

	tx.Emit(models.Event{Type: models.EventTokenIssued, AffectedOwnerIDs: []string{ownerID}, Token: &tok})
	return tok, nil
}

// AdvanceServing completes the serving token and calls the head of the line.
// With nobody serving and nobody waiting it changes nothing and returns nil.
func (tx *Tx) AdvanceServing() (*models.Token, error) {
	if tx.st.serving == nil && len(tx.st.waiting) == 0 {
		return nil, nil
	}
	if tx.st.cursor.Paused {
		return nil, store.ErrQueuePaused
	}

	affected := tx.owners(0, len(tx.st.waiting))
	if tx.st.serving != nil {
		done := tx.retire(*tx.st.serving, models.StatusCompleted)
		tx.setServing(nil)
		affected = append(affected, done.OwnerID)
		tx.Emit(models.Event{Type: models.EventTokenCompleted, AffectedOwnerIDs: []string{done.OwnerID}, Token: &done})
	}

	next := tx.promoteHead()
	event := models.Event{Type: models.EventServeAdvanced, AffectedOwnerIDs: affected}
	if next != nil {
		called := *next
		event.Token = &called
	}
	tx.Emit(event)
	return next, nil
}

// Cancel removes a waiting token and records the slot it frees.
func (tx *Tx) Cancel(tokenID string) (models.Token, error) {
	idx, err := tx.requireWaiting(tokenID, "cancel", store.ErrInvalidState)
	if err != nil {
		return models.Token{}, err
	}
	tok := tx.removeAt(idx)
	vacancy := models.Vacancy{Number: tok.Number, Slot: idx, TokenID: tok.TokenID, FreedAt: tx.now}
	tx.st.cursor.Vacancies = append(tx.st.cursor.Vacancies, vacancy)
	canceled := tx.retire(tok, models.StatusCanceled)

	behind := tx.owners(idx, len(tx.st.waiting))
	tx.Emit(models.Event{Type: models.EventTokenCanceled, AffectedOwnerIDs: append([]string{tok.OwnerID}, behind...), Token: &canceled})
	tx.Emit(models.Event{Type: models.EventSlotVacated, AffectedOwnerIDs: behind, Vacancy: &vacancy})
	return canceled, nil
}

// Reorder exchanges the positions of two waiting tokens. It emits nothing;
// callers announce the change in their own terms.
func (tx *Tx) Reorder(tokenAID, tokenBID string) error {
	a, err := tx.requireWaiting(tokenAID, "reorder", store.ErrNotBothWaiting)
	if err != nil {
		return err
	}
	b, err := tx.requireWaiting(tokenBID, "reorder", store.ErrNotBothWaiting)
	if err != nil {
		return err
	}
	if a == b {
		return nil
	}
	tx.st.waiting[a], tx.st.waiting[b] = tx.st.waiting[b], tx.st.waiting[a]
	tx.renumber()
	tx.dirty = true
	return nil
}

// MoveTo relocates a waiting token to a later slot. A negative slot means
// the tail.
func (tx *Tx) MoveTo(tokenID string, slot int) (models.Token, error) {
	idx, err := tx.requireWaiting(tokenID, "move", store.ErrTokenNotWaiting)
	if err != nil {
		return models.Token{}, err
	}
	last := len(tx.st.waiting) - 1
	target := slot
	if slot < 0 {
		target = last
	} else if slot <= idx || slot > last {
		return models.Token{}, store.ErrInvalidSlot
	}
	if target == idx {
		return tx.st.waiting[idx], nil
	}

	affected := tx.owners(idx, target+1)
	tok := tx.removeAt(idx)
	tx.insertAt(target, tok)
	moved := tx.st.waiting[target]
	tx.Emit(models.Event{Type: models.EventTokenMoved, AffectedOwnerIDs: affected, Token: &moved})
	return moved, nil
}

// ClaimVacancy pulls a waiting token forward into a freed slot. The first
// claim wins; the vacancy stays marked as claimed until its slot reaches the
// head of the line.
func (tx *Tx) ClaimVacancy(tokenID string, vacancyNumber int64) (models.Token, error) {
	if tx.VacancyClaimed(vacancyNumber) {
		return models.Token{}, store.ErrVacancyAlreadyClaimed
	}
	vi := tx.st.vacancyIndex(vacancyNumber)
	if vi < 0 {
		return models.Token{}, store.ErrNoSuchVacancy
	}
	vacancy := tx.st.cursor.Vacancies[vi]
	idx, err := tx.requireWaiting(tokenID, "claim", store.ErrTokenNotWaiting)
	if err != nil {
		return models.Token{}, err
	}
	if idx <= vacancy.Slot {
		return models.Token{}, store.ErrNotBehindVacancy
	}

	tx.st.cursor.Vacancies[vi].ClaimedBy = tokenID
	vacancy.ClaimedBy = tokenID

	affected := tx.owners(vacancy.Slot, idx+1)
	tok := tx.removeAt(idx)
	tx.insertAt(vacancy.Slot, tok)
	claimed := tx.st.waiting[vacancy.Slot]
	tx.Emit(models.Event{Type: models.EventVacancyClaimed, AffectedOwnerIDs: affected, Token: &claimed, Vacancy: &vacancy})
	return claimed, nil
}

// CompleteServing finishes the serving token without calling the next one.
func (tx *Tx) CompleteServing(tokenID string) (models.Token, error) {
	tok, ok := tx.Token(tokenID)
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if !store.ValidTransition("complete", tok.Status) {
		return models.Token{}, store.ErrInvalidState
	}
	done := tx.retire(*tx.st.serving, models.StatusCompleted)
	tx.setServing(nil)
	tx.Emit(models.Event{Type: models.EventTokenCompleted, AffectedOwnerIDs: []string{done.OwnerID}, Token: &done})
	return done, nil
}

// Leave takes the owner out of the location: a waiting token is canceled
// and frees its slot, a serving one is completed, a snoozed one is canceled.
func (tx *Tx) Leave(ownerID string) (models.Token, error) {
	if tok, ok := tx.ActiveTokenOf(ownerID); ok {
		if tok.Status == models.StatusServing {
			return tx.CompleteServing(tok.TokenID)
		}
		return tx.Cancel(tok.TokenID)
	}
	parked, ok := tx.SnoozedTokenOf(ownerID)
	if !ok {
		return models.Token{}, store.ErrNoActiveToken
	}
	tx.dropSnoozed(parked.TokenID)
	canceled := tx.retire(parked, models.StatusCanceled)
	tx.Emit(models.Event{Type: models.EventTokenCanceled, AffectedOwnerIDs: []string{ownerID}, Token: &canceled})
	return canceled, nil
}

// SkipServing parks the serving token as snoozed and calls the next one.
// A non-empty expectedTokenID guards against skipping a token that was
// called after the caller looked.
func (tx *Tx) SkipServing(expectedTokenID string) (models.Token, error) {
	if tx.st.cursor.Paused {
		return models.Token{}, store.ErrQueuePaused
	}
	if tx.st.serving == nil {
		return models.Token{}, store.ErrTokenNotFound
	}
	current := *tx.st.serving
	if expectedTokenID != "" && current.TokenID != expectedTokenID {
		return models.Token{}, store.ErrInvalidState
	}
	if !store.ValidTransition("skip", current.Status) {
		return models.Token{}, store.ErrInvalidState
	}

	affected := tx.owners(0, len(tx.st.waiting))
	current.Status = models.StatusSnoozed
	current.Position = models.NoPosition
	current.UpdatedAt = tx.now
	tx.st.snoozed = append(tx.st.snoozed, current)
	tx.setServing(nil)
	tx.Emit(models.Event{Type: models.EventTokenSnoozed, AffectedOwnerIDs: []string{current.OwnerID}, Token: &current})

	event := models.Event{Type: models.EventServeAdvanced, AffectedOwnerIDs: affected}
	if next := tx.promoteHead(); next != nil {
		called := *next
		event.Token = &called
	}
	tx.Emit(event)
	return current, nil
}

// Rejoin returns a snoozed owner to the tail of the line.
func (tx *Tx) Rejoin(ownerID string) (models.Token, error) {
	parked, ok := tx.SnoozedTokenOf(ownerID)
	if !ok {
		if _, active := tx.ActiveTokenOf(ownerID); active {
			return models.Token{}, store.ErrDuplicateActiveToken
		}
		return models.Token{}, store.ErrNotSnoozed
	}
	if tx.st.cursor.Closed {
		return models.Token{}, store.ErrQueueClosed
	}
	if tx.full() {
		return models.Token{}, store.ErrQueueFull
	}
	if !store.ValidTransition("rejoin", parked.Status) {
		return models.Token{}, store.ErrInvalidState
	}

	tx.dropSnoozed(parked.TokenID)
	parked.Status = models.StatusWaiting
	parked.CalledAt = nil
	tx.append(parked)
	tok := tx.st.waiting[len(tx.st.waiting)-1]
	tx.Emit(models.Event{Type: models.EventTokenRejoined, AffectedOwnerIDs: []string{ownerID}, Token: &tok})
	return tok, nil
}

func (tx *Tx) SetPaused(paused bool) error {
	if tx.st.cursor.Paused == paused {
		return nil
	}
	tx.st.cursor.Paused = paused
	eventType := models.EventQueueResumed
	if paused {
		eventType = models.EventQueuePaused
	}
	tx.Emit(models.Event{Type: eventType, AffectedOwnerIDs: tx.allOwners()})
	return nil
}

// Close stops new arrivals. Tokens already in line are still served.
func (tx *Tx) Close() error {
	if tx.st.cursor.Closed {
		return nil
	}
	tx.st.cursor.Closed = true
	tx.Emit(models.Event{Type: models.EventQueueClosed, AffectedOwnerIDs: tx.allOwners()})
	return nil
}

func (tx *Tx) requireWaiting(tokenID, action string, stateErr error) (int, error) {
	tok, ok := tx.Token(tokenID)
	if !ok {
		for _, retired := range tx.st.retired {
			if retired.TokenID == tokenID {
				return -1, stateErr
			}
		}
		return -1, store.ErrTokenNotFound
	}
	if !store.ValidTransition(action, tok.Status) {
		return -1, stateErr
	}
	return tx.st.waitingIndex(tokenID), nil
}

func (tx *Tx) full() bool {
	limit := tx.st.settings.Capacity
	return limit > 0 && len(tx.st.waiting) >= limit
}

func (tx *Tx) append(tok models.Token) {
	tok.Position = len(tx.st.waiting)
	tok.UpdatedAt = tx.now
	tx.st.waiting = append(tx.st.waiting, tok)
	tx.dirty = true
}

// removeAt takes the token at position p out of the line. Vacancies behind
// p move up with the line.
func (tx *Tx) removeAt(p int) models.Token {
	tok := tx.st.waiting[p]
	tx.st.waiting = append(tx.st.waiting[:p], tx.st.waiting[p+1:]...)
	for i := range tx.st.cursor.Vacancies {
		if tx.st.cursor.Vacancies[i].Slot > p {
			tx.st.cursor.Vacancies[i].Slot--
		}
	}
	tx.renumber()
	tx.dirty = true
	return tok
}

// insertAt places tok at position p, pushing vacancies behind p back.
func (tx *Tx) insertAt(p int, tok models.Token) {
	tx.st.waiting = append(tx.st.waiting, models.Token{})
	copy(tx.st.waiting[p+1:], tx.st.waiting[p:])
	tx.st.waiting[p] = tok
	for i := range tx.st.cursor.Vacancies {
		if tx.st.cursor.Vacancies[i].Slot > p {
			tx.st.cursor.Vacancies[i].Slot++
		}
	}
	tx.renumber()
	tx.dirty = true
}

func (tx *Tx) renumber() {
	for i := range tx.st.waiting {
		if tx.st.waiting[i].Position != i {
			tx.st.waiting[i].Position = i
			tx.st.waiting[i].UpdatedAt = tx.now
		}
	}
}

// promoteHead calls the first waiting token. Vacancies the line has already
// reached, claimed or not, are dropped.
func (tx *Tx) promoteHead() *models.Token {
	if len(tx.st.waiting) == 0 {
		return nil
	}
	kept := tx.st.cursor.Vacancies[:0]
	for _, v := range tx.st.cursor.Vacancies {
		if v.Slot > 0 {
			kept = append(kept, v)
		}
	}
	tx.st.cursor.Vacancies = kept

	tok := tx.removeAt(0)
	calledAt := tx.now
	tok.Status = models.StatusServing
	tok.Position = models.NoPosition
	tok.CalledAt = &calledAt
	tok.UpdatedAt = tx.now
	tx.setServing(&tok)
	return &tok
}

func (tx *Tx) setServing(tok *models.Token) {
	tx.st.serving = tok
	if tok == nil {
		tx.st.cursor.ServingNumber = nil
		tx.st.cursor.ServingTokenID = ""
	} else {
		n := tok.Number
		tx.st.cursor.ServingNumber = &n
		tx.st.cursor.ServingTokenID = tok.TokenID
	}
	tx.dirty = true
}

func (tx *Tx) retire(tok models.Token, status string) models.Token {
	tok.Status = status
	tok.Position = models.NoPosition
	tok.UpdatedAt = tx.now
	tx.st.retired = append(tx.st.retired, tok)
	tx.dirty = true
	return tok
}

func (tx *Tx) dropSnoozed(tokenID string) {
	for i, tok := range tx.st.snoozed {
		if tok.TokenID == tokenID {
			tx.st.snoozed = append(tx.st.snoozed[:i], tx.st.snoozed[i+1:]...)
			tx.dirty = true
			return
		}
	}
}

// owners lists the owners at waiting positions [from, to).
func (tx *Tx) owners(from, to int) []string {
	if to > len(tx.st.waiting) {
		to = len(tx.st.waiting)
	}
	var out []string
	for i := from; i < to; i++ {
		out = append(out, tx.st.waiting[i].OwnerID)
	}
	return out
}

func (tx *Tx) allOwners() []string {
	out := tx.owners(0, len(tx.st.waiting))
	if tx.st.serving != nil {
		out = append(out, tx.st.serving.OwnerID)
	}
	return out
}
