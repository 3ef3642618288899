package models

import (
	"encoding/json"
	"time"
)

const (
	EventTokenIssued    = "token.issued"
	EventServeAdvanced  = "serve.advanced"
	EventTokenCanceled  = "token.canceled"
	EventTokenCompleted = "token.completed"
	EventTokenMoved     = "token.moved"
	EventTokenSnoozed   = "token.snoozed"
	EventTokenRejoined  = "token.rejoined"
	EventSlotVacated    = "slot.vacated"
	EventVacancyClaimed = "vacancy.claimed"
	EventSwapProposed   = "swap.proposed"
	EventSwapCompleted  = "swap.completed"
	EventSwapRejected   = "swap.rejected"
	EventSwapExpired    = "swap.expired"
	EventQuotaExhausted = "quota.exhausted"
	EventQueuePaused    = "queue.paused"
	EventQueueResumed   = "queue.resumed"
	EventQueueClosed    = "queue.closed"
)

type Event struct {
	EventID          string       `json:"event_id"`
	Type             string       `json:"type"`
	LocationID       string       `json:"location_id"`
	Seq              uint64       `json:"seq"`
	AffectedOwnerIDs []string     `json:"affected_owner_ids,omitempty"`
	ServingNumber    *int64       `json:"serving_number,omitempty"`
	Token            *Token       `json:"token,omitempty"`
	Vacancy          *Vacancy     `json:"vacancy,omitempty"`
	Swap             *SwapRequest `json:"swap,omitempty"`
	Quota            *SwapQuota   `json:"quota,omitempty"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

// ToJSON marshals the event for broker payloads.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Affects reports whether ownerID is listed as affected by the event.
func (e Event) Affects(ownerID string) bool {
	for _, id := range e.AffectedOwnerIDs {
		if id == ownerID {
			return true
		}
	}
	return false
}
