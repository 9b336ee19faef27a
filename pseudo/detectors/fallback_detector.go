package detectors

import (
	"context"
	"regexp"
)

// fallbackConfidence is the fixed score assigned to vocabulary matches.
const fallbackConfidence = 0.8

// fallbackVocabulary maps NER labels to the regex candidates matched when no
// statistical model is available. The person bigram pattern catches
// capitalized first/last name pairs beyond the fixed vocabulary.
var fallbackVocabulary = map[string][]*regexp.Regexp{
	LabelPerson: {
		regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`),
		regexp.MustCompile(`\bJohn\b`),
		regexp.MustCompile(`\bMary\b`),
		regexp.MustCompile(`\bMax\b`),
	},
	LabelLocation: {
		regexp.MustCompile(`\bBerlin\b`),
		regexp.MustCompile(`\bLondon\b`),
		regexp.MustCompile(`\bParis\b`),
		regexp.MustCompile(`\bNew York\b`),
	},
	LabelOrganization: {
		regexp.MustCompile(`\bGoogle\b`),
		regexp.MustCompile(`\bMicrosoft\b`),
		regexp.MustCompile(`\bApple\b`),
		regexp.MustCompile(`\bSiemens\b`),
	},
}

// FallbackRecognizer is a deterministic matcher over a small fixed
// vocabulary. It keeps the pipeline exercisable when no ONNX model is
// available (offline and test environments); this degraded mode is a
// documented capability, not silent data loss.
type FallbackRecognizer struct{}

// NewFallbackRecognizer creates a fallback recognizer.
func NewFallbackRecognizer() *FallbackRecognizer {
	return &FallbackRecognizer{}
}

// Name returns the name of this recognizer.
func (r *FallbackRecognizer) Name() string {
	return "fallback_recognizer"
}

// Extract matches the fixed vocabulary against the text. Overlapping matches
// are resolved with the standard merge so that a full-name bigram beats the
// single-name hit it contains.
func (r *FallbackRecognizer) Extract(ctx context.Context, text string) ([]Entity, error) {
	if text == "" {
		return nil, nil
	}

	var entities []Entity
	for label, patterns := range fallbackVocabulary {
		for _, pattern := range patterns {
			for _, loc := range pattern.FindAllStringIndex(text, -1) {
				entities = append(entities, Entity{
					Text:       text[loc[0]:loc[1]],
					Label:      label,
					Start:      loc[0],
					End:        loc[1],
					Confidence: fallbackConfidence,
				})
			}
		}
	}

	return MergeOverlapping(entities), nil
}

// Close implements the Recognizer interface. Nothing to release.
func (r *FallbackRecognizer) Close() error {
	return nil
}
