package models

import "time"

type LocationSettings struct {
	LocationID            string `json:"location_id"`
	Name                  string `json:"name,omitempty"`
	Capacity              int    `json:"capacity"`
	AverageServiceMinutes int    `json:"average_service_minutes"`
	AllowSwaps            bool   `json:"allow_swaps"`
	SwapLimit             int    `json:"swap_limit"`
}

// LocationState is the durable cursor record of one location: the serving
// pointer, the numbering sequence and the open vacancies.
type LocationState struct {
	LocationID     string    `json:"location_id"`
	ServingTokenID string    `json:"serving_token_id,omitempty"`
	ServingNumber  *int64    `json:"serving_number,omitempty"`
	NextNumber     int64     `json:"next_number"`
	Paused         bool      `json:"paused"`
	Closed         bool      `json:"closed"`
	Vacancies      []Vacancy `json:"vacancies"`
	Seq            uint64    `json:"seq"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	CrowdLow    = "low"
	CrowdMedium = "medium"
	CrowdHigh   = "high"
)

// CrowdLevel buckets the number of waiting tokens for discovery listings.
func CrowdLevel(waiting int) string {
	switch {
	case waiting < 5:
		return CrowdLow
	case waiting < 15:
		return CrowdMedium
	default:
		return CrowdHigh
	}
}

type QuotaView struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	CanSwap   bool `json:"can_swap"`
}

type TokenView struct {
	TokenID              string    `json:"token_id"`
	LocationID           string    `json:"location_id"`
	Number               int64     `json:"number"`
	Status               string    `json:"status"`
	Position             int       `json:"position"`
	PeopleAhead          int       `json:"people_ahead"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	ServingNumber        *int64    `json:"serving_number,omitempty"`
	Quota                QuotaView `json:"quota"`
}

type LocationView struct {
	LocationID            string    `json:"location_id"`
	Name                  string    `json:"name,omitempty"`
	ServingNumber         *int64    `json:"serving_number,omitempty"`
	Serving               *Token    `json:"serving,omitempty"`
	Waiting               int       `json:"waiting"`
	Crowd                 string    `json:"crowd"`
	Paused                bool      `json:"paused"`
	Closed                bool      `json:"closed"`
	AverageServiceMinutes int       `json:"average_service_minutes"`
	Tokens                []Token   `json:"tokens"`
	Vacancies             []Vacancy `json:"vacancies"`
}

type SwapResult struct {
	Request SwapRequest `json:"request"`
	View    TokenView   `json:"view"`
}
