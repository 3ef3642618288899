package models

import "time"

const (
	SwapModeJumpAhead   = "jump_ahead"
	SwapModeMoveBack    = "move_back"
	SwapModeClaimVacant = "claim_vacant"
)

const (
	SwapProposed = "proposed"
	SwapAccepted = "accepted"
	SwapRejected = "rejected"
	SwapExpired  = "expired"
)

type SwapRequest struct {
	RequestID     string     `json:"request_id"`
	LocationID    string     `json:"location_id"`
	RequesterID   string     `json:"requester_id"`
	CounterpartID string     `json:"counterpart_id,omitempty"`
	TargetNumbers []int64    `json:"target_numbers"`
	Mode          string     `json:"mode"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the request has left the Proposed state.
func (r SwapRequest) Resolved() bool {
	return r.State != SwapProposed
}

type SwapQuota struct {
	OwnerID     string    `json:"owner_id"`
	LocationID  string    `json:"location_id"`
	WindowStart time.Time `json:"window_start"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
}

// Remaining returns the number of swap actions left in the window.
func (q SwapQuota) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Exhausted reports whether the daily limit has been reached.
func (q SwapQuota) Exhausted() bool {
	return q.Used >= q.Limit
}
