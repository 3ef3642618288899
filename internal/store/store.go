package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/queue-engine/internal/models"
)

// Snapshot is everything needed to rebuild one location after a restart:
// the cursor record, every non-terminal token, tokens that reached a terminal
// state since the previous save, and the quota rows.
type Snapshot struct {
	Settings models.LocationSettings
	State    models.LocationState
	Tokens   []models.Token
	Retired  []models.Token
	Quotas   []models.SwapQuota
	SavedAt  time.Time
}

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LoadSnapshot(ctx context.Context, locationID string) (Snapshot, bool, error)
}

type JournalEntry struct {
	LocationID string          `json:"location_id"`
	Seq        uint64          `json:"seq"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

// Journal is the append-only event log. Entries of one location are hash
// chained in sequence order.
type Journal interface {
	AppendEvents(ctx context.Context, events []models.Event) error
	ListEvents(ctx context.Context, locationID string, afterSeq uint64, limit int) ([]JournalEntry, error)
	// LastSeq returns the highest journaled sequence for locationID, or 0.
	LastSeq(ctx context.Context, locationID string) (uint64, error)
}

const (
	CommandPending   = "pending"
	CommandCompleted = "completed"
)

type CommandRecord struct {
	RequestID string
	Action    string
	Status    string
	Response  json.RawMessage
	CreatedAt time.Time
}

// CommandStore remembers client request IDs so retried commands replay the
// first result instead of running twice.
type CommandStore interface {
	// ReserveCommand claims requestID for action. When the ID is already known
	// the existing record is returned with found set.
	ReserveCommand(ctx context.Context, requestID, action string, ttl time.Duration) (CommandRecord, bool, error)
	CompleteCommand(ctx context.Context, requestID string, response json.RawMessage) error
	ReleaseCommand(ctx context.Context, requestID string) error
}
