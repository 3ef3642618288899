package store

import (
	"crypto/sha256"
	"fmt"
	"time"

	"qms/queue-engine/internal/models"
)

func ComputeEventHash(prevHash, locationID, eventType string, payload []byte, createdAt time.Time, seq uint64) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, locationID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NewJournalEntry chains event onto prevHash.
func NewJournalEntry(prevHash string, event models.Event) (JournalEntry, error) {
	payload, err := event.ToJSON()
	if err != nil {
		return JournalEntry{}, err
	}
	// timestamptz keeps microseconds; hash what the database will return.
	createdAt := event.OccurredAt.UTC().Truncate(time.Microsecond)
	return JournalEntry{
		LocationID: event.LocationID,
		Seq:        event.Seq,
		EventID:    event.EventID,
		Type:       event.Type,
		Payload:    payload,
		CreatedAt:  createdAt,
		PrevHash:   prevHash,
		Hash:       ComputeEventHash(prevHash, event.LocationID, event.Type, payload, createdAt, event.Seq),
	}, nil
}

// VerifyChain returns the index of the first entry whose hash does not match
// its content or predecessor, or whose sequence does not follow the previous
// entry's. It returns -1 when the chain is intact.
func VerifyChain(entries []JournalEntry) int {
	prev := ""
	for i, entry := range entries {
		if i > 0 && (entry.PrevHash != prev || entry.Seq != entries[i-1].Seq+1) {
			return i
		}
		if entry.Hash != ComputeEventHash(entry.PrevHash, entry.LocationID, entry.Type, entry.Payload, entry.CreatedAt, entry.Seq) {
			return i
		}
		prev = entry.Hash
	}
	return -1
}
