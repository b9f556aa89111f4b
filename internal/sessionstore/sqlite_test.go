package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func testRecord(id string) *Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Record{
		ID:           id,
		Kind:         "agent",
		Participants: []string{"dev-1", "dev-2"},
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
		MessageCount: 7,
		Metadata:     map[string]string{"project": "mesh"},
	}
}

func TestSaveAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("dev-sync")
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetSession(ctx, "dev-sync")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("record not found after save")
	}
	if got.Kind != "agent" || got.MessageCount != 7 || !got.Active {
		t.Fatalf("record round trip mismatch: %+v", got)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "dev-1" {
		t.Fatalf("participants = %v", got.Participants)
	}
	if got.Metadata["project"] != "mesh" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestGetSessionAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent id, got %+v", got)
	}
}

func TestSaveSessionReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("dev-sync")
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.MessageCount = 42
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSession(ctx, "dev-sync")
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 42 {
		t.Fatalf("messageCount = %d after upsert, want 42", got.MessageCount)
	}

	all, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("list returned %d records after upsert, want 1", len(all))
	}
}

func TestSetActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, testRecord("dev-sync")); err != nil {
		t.Fatal(err)
	}
	if err := store.SetActive(ctx, "dev-sync", false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	got, err := store.GetSession(ctx, "dev-sync")
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Fatal("record still active after SetActive(false)")
	}
}

func TestListSessionsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testRecord("older")
	older.LastActivity = older.LastActivity.Add(-time.Hour)
	newer := testRecord("newer")

	if err := store.SaveSession(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(ctx, newer); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("list returned %d records, want 2", len(all))
	}
	if all[0].ID != "newer" {
		t.Fatalf("most recently active first: got %s", all[0].ID)
	}
}
