package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

// Store keeps snapshots, the journal and command records in process memory.
type Store struct {
	mu        sync.Mutex
	snapshots map[string]store.Snapshot
	retired   map[string][]models.Token
	journal   map[string][]store.JournalEntry
	commands  map[string]commandEntry
	now       func() time.Time
}

type commandEntry struct {
	record    store.CommandRecord
	expiresAt time.Time
}

func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]store.Snapshot),
		retired:   make(map[string][]models.Token),
		journal:   make(map[string][]store.JournalEntry),
		commands:  make(map[string]commandEntry),
		now:       time.Now,
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := snapshot.State.LocationID
	s.retired[id] = append(s.retired[id], snapshot.Retired...)
	snapshot.Retired = nil
	snapshot.Tokens = append([]models.Token(nil), snapshot.Tokens...)
	snapshot.Quotas = append([]models.SwapQuota(nil), snapshot.Quotas...)
	s.snapshots[id] = snapshot
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, locationID string) (store.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[locationID]
	if !ok {
		return store.Snapshot{}, false, nil
	}
	snapshot.Tokens = append([]models.Token(nil), snapshot.Tokens...)
	snapshot.Quotas = append([]models.SwapQuota(nil), snapshot.Quotas...)
	return snapshot, true, nil
}

// RetiredTokens returns terminal tokens flushed for locationID.
func (s *Store) RetiredTokens(locationID string) []models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Token(nil), s.retired[locationID]...)
}

func (s *Store) AppendEvents(ctx context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		entries := s.journal[event.LocationID]
		prev := ""
		if len(entries) > 0 {
			last := entries[len(entries)-1]
			if event.Seq <= last.Seq {
				continue
			}
			prev = last.Hash
		}
		entry, err := store.NewJournalEntry(prev, event)
		if err != nil {
			return err
		}
		s.journal[event.LocationID] = append(entries, entry)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, locationID string, afterSeq uint64, limit int) ([]store.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.JournalEntry
	for _, entry := range s.journal[locationID] {
		if entry.Seq <= afterSeq {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LastSeq(ctx context.Context, locationID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.journal[locationID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Seq, nil
}

func (s *Store) ReserveCommand(ctx context.Context, requestID, action string, ttl time.Duration) (store.CommandRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if entry, ok := s.commands[requestID]; ok && (entry.expiresAt.IsZero() || now.Before(entry.expiresAt)) {
		return entry.record, true, nil
	}
	record := store.CommandRecord{
		RequestID: requestID,
		Action:    action,
		Status:    store.CommandPending,
		CreatedAt: now,
	}
	entry := commandEntry{record: record}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.commands[requestID] = entry
	return record, false, nil
}

func (s *Store) CompleteCommand(ctx context.Context, requestID string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.commands[requestID]
	if !ok {
		return nil
	}
	entry.record.Status = store.CommandCompleted
	entry.record.Response = append(json.RawMessage(nil), response...)
	s.commands[requestID] = entry
	return nil
}

func (s *Store) ReleaseCommand(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.commands, requestID)
	return nil
}
