package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists location snapshots, the event journal and command requests.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot store.Snapshot) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = upsertLocation(ctx, tx, snapshot); err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	for _, tok := range snapshot.Tokens {
		if err = upsertToken(ctx, tx, tok); err != nil {
			return fmt.Errorf("upsert token %s: %w", tok.TokenID, err)
		}
	}
	for _, tok := range snapshot.Retired {
		if err = upsertToken(ctx, tx, tok); err != nil {
			return fmt.Errorf("upsert token %s: %w", tok.TokenID, err)
		}
	}
	for _, q := range snapshot.Quotas {
		if err = upsertQuota(ctx, tx, q); err != nil {
			return fmt.Errorf("upsert quota %s: %w", q.OwnerID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) LoadSnapshot(ctx context.Context, locationID string) (store.Snapshot, bool, error) {
	var (
		snapshot       store.Snapshot
		servingTokenID sql.NullString
		servingNumber  sql.NullInt64
		vacancies      []byte
		seq            int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT location_id, name, capacity, average_service_minutes, allow_swaps, swap_limit,
			serving_token_id, serving_number, next_number, paused, closed, vacancies,
			seq, updated_at, saved_at
		FROM queue_locations
		WHERE location_id = $1
	`, locationID)
	settings := &snapshot.Settings
	cursor := &snapshot.State
	if err := row.Scan(&settings.LocationID, &settings.Name, &settings.Capacity, &settings.AverageServiceMinutes,
		&settings.AllowSwaps, &settings.SwapLimit, &servingTokenID, &servingNumber, &cursor.NextNumber,
		&cursor.Paused, &cursor.Closed, &vacancies, &seq, &cursor.UpdatedAt, &snapshot.SavedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Snapshot{}, false, nil
		}
		return store.Snapshot{}, false, err
	}
	cursor.LocationID = settings.LocationID
	cursor.Seq = uint64(seq)
	if servingTokenID.Valid {
		cursor.ServingTokenID = servingTokenID.String
	}
	if servingNumber.Valid {
		n := servingNumber.Int64
		cursor.ServingNumber = &n
	}
	if err := json.Unmarshal(vacancies, &cursor.Vacancies); err != nil {
		return store.Snapshot{}, false, fmt.Errorf("decode vacancies: %w", err)
	}

	tokens, err := s.listActiveTokens(ctx, locationID)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	snapshot.Tokens = tokens

	quotas, err := s.listQuotas(ctx, locationID)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	snapshot.Quotas = quotas
	return snapshot, true, nil
}

func (s *Store) listActiveTokens(ctx context.Context, locationID string) ([]models.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, location_id, owner_id, number, position, status, issued_at, updated_at, called_at
		FROM queue_tokens
		WHERE location_id = $1 AND status IN ($2, $3, $4)
		ORDER BY position ASC, number ASC
	`, locationID, models.StatusWaiting, models.StatusServing, models.StatusSnoozed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var tok models.Token
		var calledAt sql.NullTime
		if err := rows.Scan(&tok.TokenID, &tok.LocationID, &tok.OwnerID, &tok.Number, &tok.Position, &tok.Status,
			&tok.IssuedAt, &tok.UpdatedAt, &calledAt); err != nil {
			return nil, err
		}
		tok.CalledAt = nullTimePtr(calledAt)
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

func (s *Store) listQuotas(ctx context.Context, locationID string) ([]models.SwapQuota, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_id, location_id, window_start, used, swap_limit
		FROM swap_quotas
		WHERE location_id = $1
		ORDER BY owner_id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []models.SwapQuota
	for rows.Next() {
		var q models.SwapQuota
		if err := rows.Scan(&q.OwnerID, &q.LocationID, &q.WindowStart, &q.Used, &q.Limit); err != nil {
			return nil, err
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

// AppendEvents chains events onto each location's journal. Events at or
// below the stored sequence are skipped so redelivery is harmless.
func (s *Store) AppendEvents(ctx context.Context, events []models.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	type head struct {
		seq  uint64
		hash string
	}
	heads := make(map[string]head)
	for _, event := range events {
		h, ok := heads[event.LocationID]
		if !ok {
			seq, hash, lerr := lockJournal(ctx, tx, event.LocationID)
			if lerr != nil {
				err = lerr
				return err
			}
			h = head{seq: seq, hash: hash}
		}
		if event.Seq <= h.seq {
			heads[event.LocationID] = h
			continue
		}
		entry, eerr := store.NewJournalEntry(h.hash, event)
		if eerr != nil {
			err = eerr
			return err
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO queue_events (location_id, seq, event_id, type, payload, created_at, prev_hash, hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.LocationID, int64(entry.Seq), entry.EventID, entry.Type, []byte(entry.Payload), entry.CreatedAt, entry.PrevHash, entry.Hash); err != nil {
			return err
		}
		heads[event.LocationID] = head{seq: entry.Seq, hash: entry.Hash}
	}
	return tx.Commit(ctx)
}

func lockJournal(ctx context.Context, tx pgx.Tx, locationID string) (uint64, string, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, locationID); err != nil {
		return 0, "", err
	}
	var lastSeq int64
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM queue_events
		WHERE location_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, locationID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, "", err
	}
	return uint64(lastSeq), prevHash.String, nil
}

func (s *Store) LastSeq(ctx context.Context, locationID string) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0)
		FROM queue_events
		WHERE location_id = $1
	`, locationID).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (s *Store) ListEvents(ctx context.Context, locationID string, afterSeq uint64, limit int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT location_id, seq, event_id, type, payload, created_at, prev_hash, hash
		FROM queue_events
		WHERE location_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, locationID, int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.JournalEntry
	for rows.Next() {
		var entry store.JournalEntry
		var seq int64
		var payload []byte
		if err := rows.Scan(&entry.LocationID, &seq, &entry.EventID, &entry.Type, &payload, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, err
		}
		entry.Seq = uint64(seq)
		entry.Payload = payload
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ReserveCommand inserts a pending row, taking over rows whose retention
// has lapsed.
func (s *Store) ReserveCommand(ctx context.Context, requestID, action string, ttl time.Duration) (store.CommandRecord, bool, error) {
	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expiresAt = &at
	}
	record := store.CommandRecord{RequestID: requestID, Action: action, Status: store.CommandPending, CreatedAt: now}

	var reserved string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO command_requests (request_id, action, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE
		SET action = EXCLUDED.action, status = EXCLUDED.status, response = NULL,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE command_requests.expires_at IS NOT NULL AND command_requests.expires_at <= EXCLUDED.created_at
		RETURNING request_id
	`, requestID, action, store.CommandPending, now, expiresAt).Scan(&reserved)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.CommandRecord{}, false, err
	}

	var existing store.CommandRecord
	var response []byte
	row := s.pool.QueryRow(ctx, `
		SELECT request_id, action, status, response, created_at
		FROM command_requests
		WHERE request_id = $1
	`, requestID)
	if err := row.Scan(&existing.RequestID, &existing.Action, &existing.Status, &response, &existing.CreatedAt); err != nil {
		return store.CommandRecord{}, false, err
	}
	if len(response) > 0 {
		existing.Response = response
	}
	return existing, true, nil
}

func (s *Store) CompleteCommand(ctx context.Context, requestID string, response json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE command_requests
		SET status = $2, response = $3
		WHERE request_id = $1
	`, requestID, store.CommandCompleted, []byte(response))
	return err
}

func (s *Store) ReleaseCommand(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM command_requests WHERE request_id = $1`, requestID)
	return err
}

func upsertLocation(ctx context.Context, tx pgx.Tx, snapshot store.Snapshot) error {
	settings := snapshot.Settings
	cursor := snapshot.State
	vacancies, err := json.Marshal(nonNilVacancies(cursor.Vacancies))
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_locations (
			location_id, name, capacity, average_service_minutes, allow_swaps, swap_limit,
			serving_token_id, serving_number, next_number, paused, closed, vacancies,
			seq, updated_at, saved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (location_id) DO UPDATE SET
			name = EXCLUDED.name,
			capacity = EXCLUDED.capacity,
			average_service_minutes = EXCLUDED.average_service_minutes,
			allow_swaps = EXCLUDED.allow_swaps,
			swap_limit = EXCLUDED.swap_limit,
			serving_token_id = EXCLUDED.serving_token_id,
			serving_number = EXCLUDED.serving_number,
			next_number = EXCLUDED.next_number,
			paused = EXCLUDED.paused,
			closed = EXCLUDED.closed,
			vacancies = EXCLUDED.vacancies,
			seq = EXCLUDED.seq,
			updated_at = EXCLUDED.updated_at,
			saved_at = EXCLUDED.saved_at
	`, settings.LocationID, settings.Name, settings.Capacity, settings.AverageServiceMinutes, settings.AllowSwaps,
		settings.SwapLimit, nullIfEmpty(cursor.ServingTokenID), cursor.ServingNumber, cursor.NextNumber, cursor.Paused,
		cursor.Closed, vacancies, int64(cursor.Seq), cursor.UpdatedAt, snapshot.SavedAt)
	return err
}

func upsertToken(ctx context.Context, tx pgx.Tx, tok models.Token) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_tokens (token_id, location_id, owner_id, number, position, status, issued_at, updated_at, called_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (token_id) DO UPDATE SET
			position = EXCLUDED.position,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			called_at = EXCLUDED.called_at
	`, tok.TokenID, tok.LocationID, tok.OwnerID, tok.Number, tok.Position, tok.Status, tok.IssuedAt, tok.UpdatedAt, tok.CalledAt)
	return err
}

func upsertQuota(ctx context.Context, tx pgx.Tx, q models.SwapQuota) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO swap_quotas (location_id, owner_id, window_start, used, swap_limit)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (location_id, owner_id) DO UPDATE SET
			window_start = EXCLUDED.window_start,
			used = EXCLUDED.used,
			swap_limit = EXCLUDED.swap_limit
	`, q.LocationID, q.OwnerID, q.WindowStart, q.Used, q.Limit)
	return err
}

func nonNilVacancies(v []models.Vacancy) []models.Vacancy {
	if v == nil {
		return []models.Vacancy{}
	}
	return v
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
