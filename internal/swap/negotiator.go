package swap

import (
	"strings"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/queue"
	"qms/queue-engine/internal/quota"
	"qms/queue-engine/internal/store"
)

const (
	ConsentAuto   = "auto"
	ConsentMutual = "mutual"
)

type Options struct {
	// Consent selects synchronous acceptance (auto) or a two-phase
	// proposal the counterpart must accept (mutual).
	Consent     string
	ProposalTTL time.Duration
}

// Negotiator validates and applies position changes for one location. It
// never touches queue state outside a queue transaction.
type Negotiator struct {
	queue   *queue.Store
	quota   *quota.Tracker
	consent string
	ttl     time.Duration
}

func New(q *queue.Store, tracker *quota.Tracker, opts Options) *Negotiator {
	consent := opts.Consent
	if consent != ConsentMutual {
		consent = ConsentAuto
	}
	ttl := opts.ProposalTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Negotiator{queue: q, quota: tracker, consent: consent, ttl: ttl}
}

func (n *Negotiator) Consent() string {
	return n.consent
}

type JumpAheadInput struct {
	RequesterID   string
	TargetNumbers []int64
	// TargetPosition, when not models.NoPosition, is the position the caller
	// saw for TargetNumbers[0]. A mismatch means the line moved underneath.
	TargetPosition int
	Reason         string
}

// ProposeJumpAhead swaps the requester with the foremost target. In mutual
// mode it only records a proposal addressed to that target's owner.
func (n *Negotiator) ProposeJumpAhead(in JumpAheadInput) (models.SwapRequest, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return models.SwapRequest{}, store.ErrReasonRequired
	}
	if in.RequesterID == "" {
		return models.SwapRequest{}, store.ErrOwnerRequired
	}
	if len(in.TargetNumbers) == 0 {
		return models.SwapRequest{}, store.ErrNoTargets
	}

	var result models.SwapRequest
	err := n.queue.Update(func(tx *queue.Tx) error {
		if !tx.Settings().AllowSwaps {
			return store.ErrSwapsDisabled
		}
		requester, err := waitingTokenOf(tx, in.RequesterID)
		if err != nil {
			return err
		}
		if !n.quota.CheckEligible(tx, in.RequesterID) {
			return store.ErrQuotaExceeded
		}
		target, err := foremostTarget(tx, requester, in.TargetNumbers, in.TargetPosition)
		if err != nil {
			return err
		}

		req := models.SwapRequest{
			RequestID:     tx.NewID(),
			LocationID:    tx.LocationID(),
			RequesterID:   in.RequesterID,
			CounterpartID: target.OwnerID,
			TargetNumbers: append([]int64(nil), in.TargetNumbers...),
			Mode:          models.SwapModeJumpAhead,
			Reason:        reason,
			State:         models.SwapProposed,
			CreatedAt:     tx.Now(),
		}

		if n.consent == ConsentMutual {
			for _, pending := range tx.Proposals() {
				if pending.RequesterID == in.RequesterID {
					return store.ErrProposalPending
				}
			}
			expires := tx.Now().Add(n.ttl)
			req.ExpiresAt = &expires
			tx.PutProposal(req)
			proposed := req
			tx.Emit(models.Event{
				Type:             models.EventSwapProposed,
				AffectedOwnerIDs: []string{req.RequesterID, req.CounterpartID},
				Swap:             &proposed,
			})
			result = req
			return nil
		}

		result, err = n.apply(tx, req, requester, target)
		return err
	})
	return result, err
}

// Respond resolves a mutual-consent proposal on behalf of its counterpart.
// Acceptance re-validates the swap against the current line.
func (n *Negotiator) Respond(requestID, ownerID string, accept bool) (models.SwapRequest, error) {
	var result models.SwapRequest
	err := n.queue.Update(func(tx *queue.Tx) error {
		req, ok := tx.Proposal(requestID)
		if !ok {
			return store.ErrProposalNotFound
		}
		if req.CounterpartID != ownerID {
			return store.ErrNotCounterparty
		}
		if req.Resolved() {
			return store.ErrProposalResolved
		}
		if req.ExpiresAt != nil && !tx.Now().Before(*req.ExpiresAt) {
			return store.ErrProposalExpired
		}

		if !accept {
			tx.DeleteProposal(req.RequestID)
			resolvedAt := tx.Now()
			req.State = models.SwapRejected
			req.ResolvedAt = &resolvedAt
			rejected := req
			tx.Emit(models.Event{
				Type:             models.EventSwapRejected,
				AffectedOwnerIDs: []string{req.RequesterID, req.CounterpartID},
				Swap:             &rejected,
			})
			result = req
			return nil
		}

		if !tx.Settings().AllowSwaps {
			return store.ErrSwapsDisabled
		}
		requester, err := waitingTokenOf(tx, req.RequesterID)
		if err != nil {
			return err
		}
		if !n.quota.CheckEligible(tx, req.RequesterID) {
			return store.ErrQuotaExceeded
		}
		target, err := foremostTarget(tx, requester, req.TargetNumbers, models.NoPosition)
		if err != nil {
			return err
		}
		if target.OwnerID != req.CounterpartID {
			return store.ErrTargetMoved
		}
		tx.DeleteProposal(req.RequestID)
		result, err = n.apply(tx, req, requester, target)
		return err
	})
	return result, err
}

// ExpirePending turns proposals past their deadline into Expired.
func (n *Negotiator) ExpirePending() ([]models.SwapRequest, error) {
	if len(n.queue.Snapshot().Proposals()) == 0 {
		return nil, nil
	}

	var expired []models.SwapRequest
	err := n.queue.Update(func(tx *queue.Tx) error {
		for _, req := range tx.Proposals() {
			if req.ExpiresAt == nil || tx.Now().Before(*req.ExpiresAt) {
				continue
			}
			tx.DeleteProposal(req.RequestID)
			resolvedAt := tx.Now()
			req.State = models.SwapExpired
			req.ResolvedAt = &resolvedAt
			gone := req
			tx.Emit(models.Event{
				Type:             models.EventSwapExpired,
				AffectedOwnerIDs: []string{req.RequesterID, req.CounterpartID},
				Swap:             &gone,
			})
			expired = append(expired, req)
		}
		return nil
	})
	return expired, err
}

// Pending lists open proposals the owner made or has to answer.
func (n *Negotiator) Pending(ownerID string) []models.SwapRequest {
	var out []models.SwapRequest
	for _, req := range n.queue.Snapshot().Proposals() {
		if req.RequesterID == ownerID || req.CounterpartID == ownerID {
			out = append(out, req)
		}
	}
	return out
}

// MoveBack relocates the owner's waiting token to the tail, or to a later
// slot when slot is not negative. It costs no quota.
func (n *Negotiator) MoveBack(ownerID string, slot int) (models.Token, error) {
	var moved models.Token
	err := n.queue.Update(func(tx *queue.Tx) error {
		tok, ok := tx.ActiveTokenOf(ownerID)
		if !ok {
			return store.ErrNoActiveToken
		}
		if tok.Status != models.StatusWaiting {
			return store.ErrTokenNotWaiting
		}
		var err error
		moved, err = tx.MoveTo(tok.TokenID, slot)
		return err
	})
	return moved, err
}

// ClaimVacant pulls the owner's token forward into a freed slot. It costs no
// quota; the first claim under the location lock wins.
func (n *Negotiator) ClaimVacant(ownerID string, vacancyNumber int64) (models.Token, error) {
	var claimed models.Token
	err := n.queue.Update(func(tx *queue.Tx) error {
		tok, err := waitingTokenOf(tx, ownerID)
		if err != nil {
			return err
		}
		claimed, err = tx.ClaimVacancy(tok.TokenID, vacancyNumber)
		return err
	})
	return claimed, err
}

// apply performs an accepted jump-ahead. Quota is consumed last so that every
// earlier failure leaves the row untouched.
func (n *Negotiator) apply(tx *queue.Tx, req models.SwapRequest, requester, target models.Token) (models.SwapRequest, error) {
	if err := tx.Reorder(requester.TokenID, target.TokenID); err != nil {
		return models.SwapRequest{}, err
	}
	q, err := n.quota.Consume(tx, req.RequesterID)
	if err != nil {
		return models.SwapRequest{}, err
	}

	resolvedAt := tx.Now()
	req.State = models.SwapAccepted
	req.ResolvedAt = &resolvedAt
	completed := req
	moved, _ := tx.Token(requester.TokenID)
	tx.Emit(models.Event{
		Type:             models.EventSwapCompleted,
		AffectedOwnerIDs: []string{req.RequesterID, target.OwnerID},
		Token:            &moved,
		Swap:             &completed,
		Quota:            &q,
	})
	if q.Exhausted() {
		exhausted := q
		tx.Emit(models.Event{
			Type:             models.EventQuotaExhausted,
			AffectedOwnerIDs: []string{req.RequesterID},
			Quota:            &exhausted,
		})
	}
	return req, nil
}

func waitingTokenOf(tx *queue.Tx, ownerID string) (models.Token, error) {
	tok, ok := tx.ActiveTokenOf(ownerID)
	if !ok {
		return models.Token{}, store.ErrNoActiveToken
	}
	if tok.Status != models.StatusWaiting {
		return models.Token{}, store.ErrTokenNotWaiting
	}
	return tok, nil
}

// foremostTarget checks every target is waiting ahead of requester and
// returns the one closest to the counter.
func foremostTarget(tx *queue.Tx, requester models.Token, numbers []int64, expectedPosition int) (models.Token, error) {
	var foremost models.Token
	found := false
	for i, number := range numbers {
		target, ok := tx.TokenByNumber(number)
		if !ok {
			return models.Token{}, store.ErrTokenNotFound
		}
		if target.Status != models.StatusWaiting {
			return models.Token{}, store.ErrNotBothWaiting
		}
		if i == 0 && expectedPosition != models.NoPosition && target.Position != expectedPosition {
			return models.Token{}, store.ErrTargetMoved
		}
		if target.Position >= requester.Position {
			return models.Token{}, store.ErrNotAhead
		}
		if !found || target.Position < foremost.Position {
			foremost = target
			found = true
		}
	}
	return foremost, nil
}
