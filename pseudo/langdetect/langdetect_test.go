package langdetect

import (
	"strings"
	"testing"
)

func TestDetectGerman(t *testing.T) {
	detector := New()

	language, confidence := detector.Detect("Der Hund und die Katze spielen im Garten und das Wetter ist heute wirklich schön.")
	if language != "de" {
		t.Errorf("Expected de, got %s", language)
	}
	if confidence < 0.7 {
		t.Errorf("Expected confidence of at least 0.7, got %f", confidence)
	}
}

func TestDetectEnglish(t *testing.T) {
	detector := New()

	language, confidence := detector.Detect("The quick brown fox jumps over the lazy dog and this is clearly an English sentence.")
	if language != "en" {
		t.Errorf("Expected en, got %s", language)
	}
	if confidence < 0.7 {
		t.Errorf("Expected confidence of at least 0.7, got %f", confidence)
	}
}

func TestDetectEmptyText(t *testing.T) {
	detector := New()

	tests := []string{"", "   ", "\n\t"}
	for _, text := range tests {
		language, confidence := detector.Detect(text)
		if language != DefaultLanguage {
			t.Errorf("Detect(%q) language = %s, expected %s", text, language, DefaultLanguage)
		}
		if confidence != 0.0 {
			t.Errorf("Detect(%q) confidence = %f, expected 0", text, confidence)
		}
	}
}

func TestDetectUnsupportedFallsBack(t *testing.T) {
	detector := New()

	// French is detected but has no model, so the default applies
	language, confidence := detector.Detect("Le chat est sur la table et il mange du poisson près de la fenêtre ce soir.")
	if language != DefaultLanguage {
		t.Errorf("Expected fallback to %s, got %s", DefaultLanguage, language)
	}
	if confidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %f", confidence)
	}
}

func TestDetectLongTextSampled(t *testing.T) {
	detector := New()

	// Multibyte characters straddling the sample boundary must not panic
	text := strings.Repeat("schön und grün ", 50)
	language, _ := detector.Detect(text)
	if language != "de" {
		t.Errorf("Expected de for long German text, got %s", language)
	}
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		code      string
		supported bool
	}{
		{"de", true},
		{"en", true},
		{"fr", false},
		{"", false},
		{"xx", false},
	}

	for _, tt := range tests {
		if got := IsSupported(tt.code); got != tt.supported {
			t.Errorf("IsSupported(%q) = %v, expected %v", tt.code, got, tt.supported)
		}
	}
}

func TestSupportedLanguages(t *testing.T) {
	languages := SupportedLanguages()
	if len(languages) != 2 {
		t.Fatalf("Expected 2 supported languages, got %d", len(languages))
	}
	for _, info := range languages {
		if info.Code == "" || info.Name == "" || info.Model == "" {
			t.Errorf("Incomplete language info: %+v", info)
		}
	}
}

func TestModelForLanguage(t *testing.T) {
	if got := ModelForLanguage("de"); got != "ner-german" {
		t.Errorf("Expected ner-german, got %s", got)
	}
	if got := ModelForLanguage("unknown"); got != ModelForLanguage(DefaultLanguage) {
		t.Errorf("Expected default model for unknown language, got %s", got)
	}
}
