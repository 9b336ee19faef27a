// Package langdetect guesses the dominant language of a text sample and
// supplies the model-selection hint for the entity recognizer.
package langdetect

import (
	"log"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// DefaultLanguage is used whenever detection cannot produce a supported
// language.
const DefaultLanguage = "en"

// DefaultSampleLength caps how much of the input the detector looks at.
const DefaultSampleLength = 200

// LanguageInfo describes one supported language and its NER model.
type LanguageInfo struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

var supportedLanguages = []LanguageInfo{
	{Code: "de", Name: "German", Model: "ner-german"},
	{Code: "en", Name: "English", Model: "ner-english"},
}

// Language-characteristic short words and diacritics used for the
// fingerprint factor of the confidence heuristic.
var languageFingerprints = map[string][]string{
	"de": {"ä", "ö", "ü", "ß", "der", "die", "das", "und", "ist", "ein", "eine"},
	"en": {"the", "and", "is", "a", "an", "this", "that", "with", "for"},
}

// Detector guesses the language of input text. The confidence it reports is
// a heuristic for downstream trust decisions and never blocks extraction.
type Detector struct {
	sampleLength int
}

// New creates a detector with the default sample length.
func New() *Detector {
	return &Detector{sampleLength: DefaultSampleLength}
}

// Detect returns the dominant language of the text and a heuristic
// confidence in [0,1]. Empty or whitespace-only input yields the default
// language with confidence 0; an unsupported detected language falls back to
// the default with confidence 0.5. Detect never fails.
func (d *Detector) Detect(text string) (string, float64) {
	if strings.TrimSpace(text) == "" {
		log.Printf("[LanguageDetector] Empty or whitespace-only text provided")
		return DefaultLanguage, 0.0
	}

	sample := text
	if len(sample) > d.sampleLength {
		cut := d.sampleLength
		for cut > 0 && !utf8.RuneStart(sample[cut]) {
			cut--
		}
		sample = sample[:cut]
	}
	sample = strings.TrimSpace(sample)

	info := whatlanggo.Detect(sample)
	detected := info.Lang.Iso6391()

	if !IsSupported(detected) {
		log.Printf("[LanguageDetector] Unsupported language detected: %q, falling back to %s", detected, DefaultLanguage)
		return DefaultLanguage, 0.5
	}

	confidence := computeConfidence(sample, detected)
	return detected, confidence
}

// computeConfidence combines a base value with a length factor (more sample
// text raises confidence, capped) and a fingerprint factor (presence of
// language-characteristic short words and diacritics, capped), clamped to
// [0,1].
func computeConfidence(sample, language string) float64 {
	const base = 0.7

	lengthFactor := float64(len(sample)) / 100
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	lengthFactor *= 0.2

	lower := strings.ToLower(sample)
	hits := 0
	for _, marker := range languageFingerprints[language] {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	fingerprintFactor := float64(hits) / 5
	if fingerprintFactor > 1 {
		fingerprintFactor = 1
	}
	fingerprintFactor *= 0.1

	confidence := base + lengthFactor + fingerprintFactor
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// IsSupported reports whether the language code has an NER model.
func IsSupported(code string) bool {
	for _, info := range supportedLanguages {
		if info.Code == code {
			return true
		}
	}
	return false
}

// SupportedLanguages returns the supported languages with their models.
func SupportedLanguages() []LanguageInfo {
	result := make([]LanguageInfo, len(supportedLanguages))
	copy(result, supportedLanguages)
	return result
}

// SupportedCodes returns just the language codes.
func SupportedCodes() []string {
	codes := make([]string, 0, len(supportedLanguages))
	for _, info := range supportedLanguages {
		codes = append(codes, info.Code)
	}
	return codes
}

// ModelForLanguage returns the NER model name for a language code, falling
// back to the default language's model.
func ModelForLanguage(code string) string {
	for _, info := range supportedLanguages {
		if info.Code == code {
			return info.Model
		}
	}
	return ModelForLanguage(DefaultLanguage)
}
