package postgres

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	serving := int64(1)
	snapshot := store.Snapshot{
		Settings: models.LocationSettings{LocationID: locationID, Name: "Clinic", AverageServiceMinutes: 5, AllowSwaps: true, SwapLimit: 8},
		State: models.LocationState{
			LocationID:     locationID,
			ServingTokenID: "tok-1",
			ServingNumber:  &serving,
			NextNumber:     4,
			Vacancies:      []models.Vacancy{{Number: 2, Slot: 0, TokenID: "tok-2", FreedAt: now}},
			Seq:            6,
			UpdatedAt:      now,
		},
		Tokens: []models.Token{
			{TokenID: "tok-1", LocationID: locationID, OwnerID: "a", Number: 1, Position: models.NoPosition, Status: models.StatusServing, IssuedAt: now, UpdatedAt: now, CalledAt: &now},
			{TokenID: "tok-3", LocationID: locationID, OwnerID: "c", Number: 3, Position: 0, Status: models.StatusWaiting, IssuedAt: now, UpdatedAt: now},
		},
		Retired: []models.Token{
			{TokenID: "tok-2", LocationID: locationID, OwnerID: "b", Number: 2, Position: models.NoPosition, Status: models.StatusCanceled, IssuedAt: now, UpdatedAt: now},
		},
		Quotas:  []models.SwapQuota{{OwnerID: "c", LocationID: locationID, WindowStart: now.Truncate(24 * time.Hour), Used: 2, Limit: 8}},
		SavedAt: now,
	}
	if err := st.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := st.LoadSnapshot(ctx, locationID)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if len(loaded.Tokens) != 2 {
		t.Fatalf("expected retired token excluded, got %d tokens", len(loaded.Tokens))
	}
	if loaded.State.NextNumber != 4 || loaded.State.Seq != 6 || loaded.State.ServingNumber == nil || *loaded.State.ServingNumber != 1 {
		t.Fatalf("unexpected cursor: %+v", loaded.State)
	}
	if len(loaded.State.Vacancies) != 1 || loaded.State.Vacancies[0].Number != 2 {
		t.Fatalf("unexpected vacancies: %+v", loaded.State.Vacancies)
	}
	if len(loaded.Quotas) != 1 || loaded.Quotas[0].Used != 2 {
		t.Fatalf("unexpected quotas: %+v", loaded.Quotas)
	}

	if _, ok, err := st.LoadSnapshot(ctx, uuid.NewString()); err != nil || ok {
		t.Fatalf("expected missing location, got %v %v", ok, err)
	}
}

func TestJournalChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := uuid.NewString()
	at := time.Now().UTC()
	var batch []models.Event
	for i := 1; i <= 3; i++ {
		batch = append(batch, models.Event{EventID: uuid.NewString(), Type: models.EventTokenIssued, LocationID: locationID, Seq: uint64(i), OccurredAt: at})
	}
	if err := st.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendEvents(ctx, batch[1:]); err != nil {
		t.Fatalf("redeliver: %v", err)
	}

	entries, err := st.ListEvents(ctx, locationID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if idx := store.VerifyChain(entries); idx != -1 {
		t.Fatalf("chain broken at %d", idx)
	}
	if seq, err := st.LastSeq(ctx, locationID); err != nil || seq != 3 {
		t.Fatalf("expected last seq 3, got %d (%v)", seq, err)
	}
}

func TestCommandRequests(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	id := uuid.NewString()
	if _, found, err := st.ReserveCommand(ctx, id, "swap", time.Hour); err != nil || found {
		t.Fatalf("reserve: %v %v", found, err)
	}
	if err := st.CompleteCommand(ctx, id, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	record, found, err := st.ReserveCommand(ctx, id, "swap", time.Hour)
	if err != nil || !found || record.Status != store.CommandCompleted || len(record.Response) == 0 {
		t.Fatalf("expected completed record, got %+v %v %v", record, found, err)
	}

	if err := st.ReleaseCommand(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, found, err := st.ReserveCommand(ctx, id, "swap", time.Hour); err != nil || found {
		t.Fatalf("expected fresh reservation after release, got %v %v", found, err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
