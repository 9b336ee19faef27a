package mapping

import (
	"strings"
	"testing"
)

func TestGetOrCreatePseudonymDeterministic(t *testing.T) {
	mapper := NewEntityMapper("test-session")

	first := mapper.GetOrCreatePseudonym("John", "PER")
	if first != "PERSON_1" {
		t.Errorf("Expected PERSON_1, got %s", first)
	}

	// Same entity again returns the same pseudonym
	second := mapper.GetOrCreatePseudonym("John", "PER")
	if second != first {
		t.Errorf("Expected stable pseudonym %s, got %s", first, second)
	}

	// A different person gets the next counter
	third := mapper.GetOrCreatePseudonym("Mary", "PER")
	if third != "PERSON_2" {
		t.Errorf("Expected PERSON_2, got %s", third)
	}
}

func TestCasingVariantsShareMapping(t *testing.T) {
	mapper := NewEntityMapper("test-session")

	a := mapper.GetOrCreatePseudonym("John", "PER")
	b := mapper.GetOrCreatePseudonym("john", "PER")
	c := mapper.GetOrCreatePseudonym("  JOHN  ", "PER")

	if a != b || b != c {
		t.Errorf("Casing variants should share one mapping, got %s, %s, %s", a, b, c)
	}

	stats := mapper.Statistics()
	if stats.TotalEntities != 1 {
		t.Errorf("Expected 1 entity, got %d", stats.TotalEntities)
	}
}

func TestPerTypeCounters(t *testing.T) {
	mapper := NewEntityMapper("test-session")

	tests := []struct {
		text       string
		entityType string
		expected   string
	}{
		{"John", "PER", "PERSON_1"},
		{"Berlin", "LOC", "LOCATION_1"},
		{"Google", "ORG", "ORGANIZATION_1"},
		{"Mary", "PER", "PERSON_2"},
		{"London", "LOC", "LOCATION_2"},
		{"john@example.com", "EMAIL", "EMAIL_1"},
	}

	for _, tt := range tests {
		got := mapper.GetOrCreatePseudonym(tt.text, tt.entityType)
		if got != tt.expected {
			t.Errorf("GetOrCreatePseudonym(%q, %q) = %s, expected %s", tt.text, tt.entityType, got, tt.expected)
		}
	}
}

func TestUnknownTypeUsesTypeAsPrefix(t *testing.T) {
	mapper := NewEntityMapper("test-session")

	got := mapper.GetOrCreatePseudonym("4532015112830366", "CREDIT_CARD")
	if got != "CREDIT_CARD_1" {
		t.Errorf("Expected CREDIT_CARD_1, got %s", got)
	}
}

func TestReverseLookup(t *testing.T) {
	mapper := NewEntityMapper("test-session")
	pseudonym := mapper.GetOrCreatePseudonym("Berlin", "LOC")

	original, ok := mapper.OriginalForPseudonym(pseudonym)
	if !ok {
		t.Fatalf("Expected reverse lookup to find %s", pseudonym)
	}
	if original != "Berlin" {
		t.Errorf("Expected Berlin, got %s", original)
	}

	if _, ok := mapper.OriginalForPseudonym("PERSON_99"); ok {
		t.Error("Expected unknown pseudonym to miss")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	mapper := NewEntityMapper("export-session")
	mapper.GetOrCreatePseudonym("John", "PER")
	mapper.GetOrCreatePseudonym("Mary", "PER")
	mapper.GetOrCreatePseudonym("Berlin", "LOC")

	exported, err := mapper.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(exported, "PERSON_2") {
		t.Errorf("Export missing PERSON_2: %s", exported)
	}

	restored := NewEntityMapper("import-session")
	if err := restored.Import(exported); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	// Imported mappings resolve identically
	pseudonym, ok := restored.MappingFor("John", "PER")
	if !ok || pseudonym != "PERSON_1" {
		t.Errorf("Expected John to map to PERSON_1 after import, got %s (found=%v)", pseudonym, ok)
	}

	// Counters continue past imported pseudonyms, never colliding
	next := restored.GetOrCreatePseudonym("Max", "PER")
	if next != "PERSON_3" {
		t.Errorf("Expected PERSON_3 after importing two persons, got %s", next)
	}
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	mapper := NewEntityMapper("test-session")
	if err := mapper.Import("{not json"); err == nil {
		t.Error("Expected error for invalid JSON document")
	}
}

func TestStatistics(t *testing.T) {
	mapper := NewEntityMapper("stats-session")
	mapper.GetOrCreatePseudonym("John", "PER")
	mapper.GetOrCreatePseudonym("Mary", "PER")
	mapper.GetOrCreatePseudonym("Berlin", "LOC")

	stats := mapper.Statistics()
	if stats.TotalEntities != 3 {
		t.Errorf("Expected 3 total entities, got %d", stats.TotalEntities)
	}
	if stats.ByType["PER"] != 2 {
		t.Errorf("Expected 2 PER entities, got %d", stats.ByType["PER"])
	}
	if stats.ByType["LOC"] != 1 {
		t.Errorf("Expected 1 LOC entity, got %d", stats.ByType["LOC"])
	}
	if stats.SessionID != "stats-session" {
		t.Errorf("Expected session id stats-session, got %s", stats.SessionID)
	}
}

func TestClearResetsCounters(t *testing.T) {
	mapper := NewEntityMapper("clear-session")
	mapper.GetOrCreatePseudonym("John", "PER")
	mapper.Clear()

	if got := mapper.GetOrCreatePseudonym("Mary", "PER"); got != "PERSON_1" {
		t.Errorf("Expected counters to reset after Clear, got %s", got)
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	mapper := NewEntityMapper("concurrent-session")

	done := make(chan string, 50)
	for i := 0; i < 50; i++ {
		go func() {
			done <- mapper.GetOrCreatePseudonym("John", "PER")
		}()
	}

	first := <-done
	for i := 1; i < 50; i++ {
		if got := <-done; got != first {
			t.Errorf("Concurrent calls disagree: %s vs %s", first, got)
		}
	}

	stats := mapper.Statistics()
	if stats.TotalEntities != 1 {
		t.Errorf("Expected a single mapping under concurrency, got %d", stats.TotalEntities)
	}
}
