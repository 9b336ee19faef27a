package detectors

import (
	"context"
	"sort"
)

// Recognizer extracts named-entity spans from text. Implementations must be
// safe to call from multiple goroutines.
type Recognizer interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
	Name() string
	Close() error
}

// FilterByConfidence returns the entities whose confidence is at least
// minConfidence. The input slice is not modified.
func FilterByConfidence(entities []Entity, minConfidence float64) []Entity {
	filtered := make([]Entity, 0, len(entities))
	for _, entity := range entities {
		if entity.Confidence >= minConfidence {
			filtered = append(filtered, entity)
		}
	}
	return filtered
}

// MergeOverlapping resolves overlapping spans into a non-overlapping,
// start-ordered list. Spans are walked left to right; when a span overlaps
// the last accepted one, the higher-confidence span wins, and on a
// confidence tie the longer span wins. The result is independent of the
// input order.
func MergeOverlapping(entities []Entity) []Entity {
	if len(entities) == 0 {
		return entities
	}

	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	// Total order so that shuffled detector output merges identically.
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if len(a.Text) != len(b.Text) {
			return len(a.Text) > len(b.Text)
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.End < b.End
	})

	merged := make([]Entity, 0, len(sorted))
	for _, entity := range sorted {
		if len(merged) == 0 {
			merged = append(merged, entity)
			continue
		}

		last := merged[len(merged)-1]
		if !overlaps(entity.Start, entity.End, last.Start, last.End) {
			merged = append(merged, entity)
			continue
		}

		if entity.Confidence > last.Confidence {
			merged[len(merged)-1] = entity
		} else if entity.Confidence == last.Confidence && len(entity.Text) > len(last.Text) {
			merged[len(merged)-1] = entity
		}
	}

	return merged
}
