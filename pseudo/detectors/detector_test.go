package detectors

import (
	"context"
	"testing"
)

func TestFilterByConfidence(t *testing.T) {
	entities := []Entity{
		{Text: "John", Label: LabelPerson, Confidence: 0.9},
		{Text: "Berlin", Label: LabelLocation, Confidence: 0.4},
		{Text: "Google", Label: LabelOrganization, Confidence: 0.5},
	}

	filtered := FilterByConfidence(entities, 0.5)
	if len(filtered) != 2 {
		t.Fatalf("Expected 2 entities at threshold 0.5, got %d", len(filtered))
	}
	for _, entity := range filtered {
		if entity.Confidence < 0.5 {
			t.Errorf("Entity %s below threshold survived filter", entity.Text)
		}
	}
}

func TestMergeOverlappingHigherConfidenceWins(t *testing.T) {
	entities := []Entity{
		{Text: "John Smith", Label: LabelPerson, Start: 0, End: 10, Confidence: 0.7},
		{Text: "Smith", Label: LabelLocation, Start: 5, End: 10, Confidence: 0.9},
	}

	merged := MergeOverlapping(entities)
	if len(merged) != 1 {
		t.Fatalf("Expected 1 entity after merge, got %d", len(merged))
	}
	if merged[0].Label != LabelLocation {
		t.Errorf("Expected higher-confidence span to win, got %s", merged[0].Label)
	}
}

func TestMergeOverlappingTieLongerWins(t *testing.T) {
	entities := []Entity{
		{Text: "John", Label: LabelPerson, Start: 0, End: 4, Confidence: 0.8},
		{Text: "John Smith", Label: LabelPerson, Start: 0, End: 10, Confidence: 0.8},
	}

	merged := MergeOverlapping(entities)
	if len(merged) != 1 {
		t.Fatalf("Expected 1 entity after merge, got %d", len(merged))
	}
	if merged[0].Text != "John Smith" {
		t.Errorf("Expected longer span to win the tie, got %q", merged[0].Text)
	}
}

func TestMergeOverlappingKeepsDisjointSpans(t *testing.T) {
	entities := []Entity{
		{Text: "Berlin", Label: LabelLocation, Start: 20, End: 26, Confidence: 0.8},
		{Text: "John", Label: LabelPerson, Start: 0, End: 4, Confidence: 0.9},
	}

	merged := MergeOverlapping(entities)
	if len(merged) != 2 {
		t.Fatalf("Expected 2 disjoint entities, got %d", len(merged))
	}
	if merged[0].Start > merged[1].Start {
		t.Error("Expected merged output sorted by start offset")
	}
}

func TestMergeOverlappingOrderIndependent(t *testing.T) {
	forward := []Entity{
		{Text: "John Smith", Label: LabelPerson, Start: 0, End: 10, Confidence: 0.8},
		{Text: "Smith", Label: LabelPerson, Start: 5, End: 10, Confidence: 0.8},
		{Text: "Berlin", Label: LabelLocation, Start: 20, End: 26, Confidence: 0.8},
	}
	backward := []Entity{forward[2], forward[1], forward[0]}

	a := MergeOverlapping(forward)
	b := MergeOverlapping(backward)
	if len(a) != len(b) {
		t.Fatalf("Merge result depends on input order: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Merge result differs at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestFallbackRecognizerVocabulary(t *testing.T) {
	recognizer := NewFallbackRecognizer()

	entities, err := recognizer.Extract(context.Background(), "John met Mary in Berlin and works at Google.")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	byLabel := make(map[string]int)
	for _, entity := range entities {
		byLabel[entity.Label]++
	}
	if byLabel[LabelPerson] != 2 {
		t.Errorf("Expected 2 persons, got %d (%v)", byLabel[LabelPerson], entities)
	}
	if byLabel[LabelLocation] != 1 {
		t.Errorf("Expected 1 location, got %d", byLabel[LabelLocation])
	}
	if byLabel[LabelOrganization] != 1 {
		t.Errorf("Expected 1 organization, got %d", byLabel[LabelOrganization])
	}
}

func TestFallbackRecognizerBigramBeatsSingleName(t *testing.T) {
	recognizer := NewFallbackRecognizer()

	entities, err := recognizer.Extract(context.Background(), "Max Mustermann wohnt in Berlin")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	persons := findByLabel(entities, LabelPerson)
	if len(persons) != 1 {
		t.Fatalf("Expected 1 person span, got %d (%v)", len(persons), persons)
	}
	if persons[0].Text != "Max Mustermann" {
		t.Errorf("Expected full name span, got %q", persons[0].Text)
	}
}

func TestFallbackRecognizerOffsets(t *testing.T) {
	recognizer := NewFallbackRecognizer()
	text := "say hi to John today"

	entities, err := recognizer.Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(entities))
	}
	if got := text[entities[0].Start:entities[0].End]; got != entities[0].Text {
		t.Errorf("Offsets do not cover the reported text: %q vs %q", got, entities[0].Text)
	}
}

func TestFallbackRecognizerEmptyText(t *testing.T) {
	recognizer := NewFallbackRecognizer()

	entities, err := recognizer.Extract(context.Background(), "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(entities) != 0 {
		t.Errorf("Expected no entities for empty text, got %v", entities)
	}
}
