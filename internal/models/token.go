package models

import "time"

// NoPosition marks a token that is not in the waiting line.
const NoPosition = -1

type Token struct {
	TokenID    string     `json:"token_id"`
	LocationID string     `json:"location_id"`
	OwnerID    string     `json:"owner_id"`
	Number     int64      `json:"number"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	IssuedAt   time.Time  `json:"issued_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusSnoozed   = "snoozed"
)

// Active reports whether the token still holds a claim at its location.
func (t Token) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusServing
}

// Terminal reports whether the token has left the location for good.
func (t Token) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCanceled
}

type Vacancy struct {
	Number  int64     `json:"number"`
	Slot    int       `json:"slot"`
	TokenID string    `json:"token_id"`
	FreedAt time.Time `json:"freed_at"`
	// ClaimedBy is the token that took the slot. A claimed vacancy is kept
	// until its slot reaches the head of the line.
	ClaimedBy string `json:"claimed_by,omitempty"`
}
