package quota

import (
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

const DefaultLimit = 8

// Reader is the read side of a location's quota rows.
type Reader interface {
	Settings() models.LocationSettings
	Quota(ownerID string) (models.SwapQuota, bool)
}

// Rows is implemented by queue transactions, which gives the tracker write
// access only inside the location's critical section.
type Rows interface {
	Reader
	PutQuota(q models.SwapQuota)
}

// Tracker enforces the daily swap limit. Windows are calendar days in the
// configured time zone and roll over lazily on access.
type Tracker struct {
	limit    int
	location *time.Location
	now      func() time.Time
}

func NewTracker(limit int, location *time.Location, now func() time.Time) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{limit: limit, location: location, now: now}
}

func (t *Tracker) Limit() int {
	return t.limit
}

// WindowStart returns midnight of the day containing at.
func (t *Tracker) WindowStart(at time.Time) time.Time {
	local := at.In(t.location)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.location)
}

// Current returns the owner's row for the current window without storing it.
func (t *Tracker) Current(rows Reader, ownerID string) models.SwapQuota {
	settings := rows.Settings()
	limit := settings.SwapLimit
	if limit <= 0 {
		limit = t.limit
	}
	window := t.WindowStart(t.now())
	q, ok := rows.Quota(ownerID)
	if !ok || q.WindowStart.Before(window) {
		return models.SwapQuota{OwnerID: ownerID, LocationID: settings.LocationID, WindowStart: window, Limit: limit}
	}
	q.Limit = limit
	return q
}

func (t *Tracker) CheckEligible(rows Reader, ownerID string) bool {
	return !t.Current(rows, ownerID).Exhausted()
}

// Consume spends one unit. Callers run it in the same transaction as the
// mutation it pays for.
func (t *Tracker) Consume(rows Rows, ownerID string) (models.SwapQuota, error) {
	q := t.Current(rows, ownerID)
	if q.Exhausted() {
		return q, store.ErrQuotaExceeded
	}
	q.Used++
	rows.PutQuota(q)
	return q, nil
}

func (t *Tracker) Usage(rows Reader, ownerID string) models.QuotaView {
	q := t.Current(rows, ownerID)
	return models.QuotaView{
		Used:      q.Used,
		Limit:     q.Limit,
		Remaining: q.Remaining(),
		CanSwap:   !q.Exhausted(),
	}
}
