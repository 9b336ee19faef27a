package pseudo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hannes/textpseudonymizer/pseudo/mapping"
)

func newTestDB(t *testing.T) *SQLiteSessionDB {
	t.Helper()

	db, err := NewSQLiteSessionDB(context.Background(), DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rows := []mapping.Mapping{
		{SessionID: "db-session", Original: "John", Pseudonym: "PERSON_1", EntityType: "PER"},
		{SessionID: "db-session", Original: "Berlin", Pseudonym: "LOCATION_1", EntityType: "LOC"},
	}
	for _, row := range rows {
		if err := db.SaveMapping(ctx, row); err != nil {
			t.Fatalf("SaveMapping failed: %v", err)
		}
	}

	loaded, err := db.LoadSession(ctx, "db-session")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(loaded))
	}
	// Insertion order preserved
	if loaded[0].Original != "John" || loaded[1].Original != "Berlin" {
		t.Errorf("Unexpected row order: %+v", loaded)
	}
	if loaded[0].Pseudonym != "PERSON_1" {
		t.Errorf("Expected PERSON_1, got %s", loaded[0].Pseudonym)
	}
}

func TestSaveMappingIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	row := mapping.Mapping{SessionID: "db-session", Original: "John", Pseudonym: "PERSON_1", EntityType: "PER"}
	if err := db.SaveMapping(ctx, row); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}
	// Replay of the same key keeps a single row
	if err := db.SaveMapping(ctx, row); err != nil {
		t.Fatalf("Replayed SaveMapping failed: %v", err)
	}

	loaded, err := db.LoadSession(ctx, "db-session")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("Expected 1 row after replay, got %d", len(loaded))
	}
}

func TestLoadUnknownSession(t *testing.T) {
	db := newTestDB(t)

	loaded, err := db.LoadSession(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected no rows for unknown session, got %d", len(loaded))
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"session-b", "session-a"} {
		err := db.SaveMapping(ctx, mapping.Mapping{
			SessionID: id, Original: "John", Pseudonym: "PERSON_1", EntityType: "PER",
		})
		if err != nil {
			t.Fatalf("SaveMapping failed: %v", err)
		}
	}

	ids, err := db.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "session-a" || ids[1] != "session-b" {
		t.Errorf("Expected sorted session ids, got %v", ids)
	}

	if err := db.DeleteSession(ctx, "session-a"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	ids, err = db.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "session-b" {
		t.Errorf("Expected only session-b to remain, got %v", ids)
	}
}

func TestCleanupKeepsFreshSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.SaveMapping(ctx, mapping.Mapping{
		SessionID: "fresh-session", Original: "John", Pseudonym: "PERSON_1", EntityType: "PER",
	})
	if err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}

	deleted, err := db.CleanupOldSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldSessions failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected fresh session to survive cleanup, deleted %d rows", deleted)
	}
}

func TestSessionSurvivesStoreRestart(t *testing.T) {
	db := newTestDB(t)

	first := mapping.NewSessionStoreWithBackend(db)
	mapper := first.GetOrCreate("persistent-session")
	if got := mapper.GetOrCreatePseudonym("John", "PER"); got != "PERSON_1" {
		t.Fatalf("Expected PERSON_1, got %s", got)
	}

	// A fresh store over the same database restores the session lazily
	second := mapping.NewSessionStoreWithBackend(db)
	restored := second.GetOrCreate("persistent-session")

	pseudonym, ok := restored.MappingFor("John", "PER")
	if !ok || pseudonym != "PERSON_1" {
		t.Errorf("Expected restored mapping John -> PERSON_1, got %s (found=%v)", pseudonym, ok)
	}
	// Counters continue past restored rows
	if got := restored.GetOrCreatePseudonym("Mary", "PER"); got != "PERSON_2" {
		t.Errorf("Expected PERSON_2 after restore, got %s", got)
	}
}
