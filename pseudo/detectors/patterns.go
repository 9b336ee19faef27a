package detectors

import (
	"log"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/nyaruka/phonenumbers"
)

// Fixed confidences per pattern type. Structural validation already gates
// these spans, so the orchestrator does not filter them by min_confidence.
const (
	emailConfidence   = 0.95
	phoneConfidence   = 0.90
	dateConfidence    = 0.85
	patternConfidence = 0.80
)

// Accepted year range for parsed dates.
const (
	minDateYear = 1900
	maxDateYear = 2100
)

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+?[0-9][0-9\s\-().]{6,18}[0-9]`),
	regexp.MustCompile(`\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`),
}

var datePatterns = []*regexp.Regexp{
	// DD.MM.YYYY (German numeric format)
	regexp.MustCompile(`\b[0-3]?[0-9]\.[0-1]?[0-9]\.[0-9]{2,4}\b`),
	// DD/MM/YYYY or MM/DD/YYYY
	regexp.MustCompile(`\b[0-3]?[0-9]/[0-1]?[0-9]/[0-9]{2,4}\b`),
	// YYYY-MM-DD (ISO)
	regexp.MustCompile(`\b[0-9]{4}-[0-1]?[0-9]-[0-3]?[0-9]\b`),
	// Textual German dates ("15. März 2023")
	regexp.MustCompile(`(?i)\b[0-3]?[0-9]\.?\s+(?:Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)\s+[0-9]{2,4}\b`),
	// Textual English dates ("March 15, 2023")
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+[0-3]?[0-9],?\s+[0-9]{2,4}\b`),
}

// germanMonths normalizes German month names before date parsing.
var germanMonths = map[string]string{
	"Januar": "January", "Februar": "February", "März": "March",
	"April": "April", "Mai": "May", "Juni": "June", "Juli": "July",
	"August": "August", "September": "September", "Oktober": "October",
	"November": "November", "Dezember": "December",
}

// defaultPatterns holds the fixed-format regexes per structured identifier
// type. German identity documents plus the generic international formats.
func defaultPatterns() map[string][]*regexp.Regexp {
	return map[string][]*regexp.Regexp{
		LabelID: {
			// German Personalausweisnummer (10 digits)
			regexp.MustCompile(`\b[0-9]{9}[0-9]\b`),
			// German Reisepassnummer (letter + 8 digits)
			regexp.MustCompile(`\b[CFGHJKLMNPRTVWXYZ][0-9]{8}\b`),
			// Labelled generic ids ("ID: X12AB34")
			regexp.MustCompile(`(?i)\b(?:ID|Nr\.?|Nummer)\s*:?\s*[A-Z0-9]{6,20}\b`),
		},
		LabelIBAN: {
			regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{4,30}\b`),
			regexp.MustCompile(`\bDE[0-9]{20}\b`),
		},
		LabelLicense: {
			// German Führerscheinnummer
			regexp.MustCompile(`\b[A-Z0-9]{11}\b`),
			// US driver license shapes
			regexp.MustCompile(`\b[A-Z][0-9]{7,12}\b`),
			regexp.MustCompile(`\b[0-9]{8,12}\b`),
		},
		LabelCreditCard: {
			regexp.MustCompile(`\b(?:[0-9]{4}[-\s]?){3}[0-9]{4}\b`),
			regexp.MustCompile(`\b[0-9]{13,19}\b`),
		},
		LabelTaxID: {
			// German Steuerliche Identifikationsnummer
			regexp.MustCompile(`\b[0-9]{11}\b`),
			// German Steuernummer
			regexp.MustCompile(`\b[0-9]{2,3}/[0-9]{3}/[0-9]{5}\b`),
		},
		LabelSocialSecurity: {
			regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
			regexp.MustCompile(`\b[0-9]{9}\b`),
		},
	}
}

// PatternDetectorSet runs the rule-based detectors: EMAIL, PHONE, DATE and
// the fixed-format identifier patterns. Every candidate goes through a
// type-specific validator; candidates that fail validation are dropped, not
// emitted with a lower confidence.
type PatternDetectorSet struct {
	mu       sync.RWMutex
	patterns map[string][]*regexp.Regexp
}

// NewPatternDetectorSet creates a detector set with the default patterns.
func NewPatternDetectorSet() *PatternDetectorSet {
	return &PatternDetectorSet{patterns: defaultPatterns()}
}

// Detect extracts all validated pattern entities from the text. The language
// supplies region hints for phone and date parsing. A failure inside one
// pattern type drops that type's contribution only.
func (s *PatternDetectorSet) Detect(text, language string) []Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var entities []Entity
	entities = append(entities, s.safeDetect("email", func() []Entity { return extractEmails(text) })...)
	entities = append(entities, s.safeDetect("phone", func() []Entity { return extractPhones(text, language) })...)
	entities = append(entities, s.safeDetect("date", func() []Entity { return extractDates(text, language) })...)
	entities = append(entities, s.safeDetect("identifier", func() []Entity { return s.extractPatternEntities(text) })...)

	return MergeOverlapping(entities)
}

// safeDetect isolates one pattern type so a panic there cannot abort the
// whole pipeline.
func (s *PatternDetectorSet) safeDetect(name string, fn func() []Entity) (entities []Entity) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PatternDetectorSet] %s detector failed, dropping its matches: %v", name, r)
			entities = nil
		}
	}()
	return fn()
}

// SupportedEntityTypes returns the entity types this set can emit.
func (s *PatternDetectorSet) SupportedEntityTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := []string{LabelEmail, LabelPhone, LabelDate}
	for entityType := range s.patterns {
		types = append(types, entityType)
	}
	sort.Strings(types[3:])
	return types
}

// ConfigurePatterns adds or replaces the regex candidates for an entity
// type. Patterns that fail to compile are skipped with a warning; a type is
// only updated when at least one pattern compiled.
func (s *PatternDetectorSet) ConfigurePatterns(custom map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for entityType, patternStrings := range custom {
		var compiled []*regexp.Regexp
		for _, patternStr := range patternStrings {
			pattern, err := regexp.Compile(patternStr)
			if err != nil {
				log.Printf("[PatternDetectorSet] Invalid regex for %s: %q: %v", entityType, patternStr, err)
				continue
			}
			compiled = append(compiled, pattern)
		}
		if len(compiled) > 0 {
			s.patterns[entityType] = compiled
			log.Printf("[PatternDetectorSet] Updated patterns for entity type: %s", entityType)
		}
	}
}

// extractEmails finds regex candidates and keeps only addresses that pass an
// RFC address parse plus the dot-placement checks the parser is lenient on.
func extractEmails(text string) []Entity {
	var entities []Entity
	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		if !validEmail(candidate) {
			continue
		}
		entities = append(entities, Entity{
			Text:       candidate,
			Label:      LabelEmail,
			Start:      loc[0],
			End:        loc[1],
			Confidence: emailConfidence,
		})
	}
	return entities
}

func validEmail(candidate string) bool {
	addr, err := mail.ParseAddress(candidate)
	if err != nil || addr.Address != candidate {
		return false
	}
	local, domain, found := strings.Cut(candidate, "@")
	if !found || local == "" || domain == "" {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return false
	}
	return true
}

// extractPhones finds phone-shaped candidates and keeps only numbers that
// parse as valid through libphonenumber, using a region hint derived from
// the target language.
func extractPhones(text, language string) []Entity {
	region := "US"
	if language == "de" {
		region = "DE"
	}

	var entities []Entity
	for _, pattern := range phonePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			candidate := strings.TrimSpace(text[loc[0]:loc[1]])
			if candidate == "" {
				continue
			}

			parsed, err := phonenumbers.Parse(candidate, region)
			if err != nil || !phonenumbers.IsValidNumber(parsed) {
				continue
			}

			start := loc[0] + strings.Index(text[loc[0]:loc[1]], candidate)
			entities = append(entities, Entity{
				Text:       candidate,
				Label:      LabelPhone,
				Start:      start,
				End:        start + len(candidate),
				Confidence: phoneConfidence,
			})
		}
	}
	return entities
}

// extractDates finds date-shaped candidates and keeps only the ones that
// parse to a year in [1900, 2100).
func extractDates(text, language string) []Entity {
	var entities []Entity
	for _, pattern := range datePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			candidate := strings.TrimSpace(text[loc[0]:loc[1]])
			parsed, ok := parseDate(candidate)
			if !ok {
				continue
			}
			if parsed.Year() < minDateYear || parsed.Year() >= maxDateYear {
				continue
			}
			entities = append(entities, Entity{
				Text:       candidate,
				Label:      LabelDate,
				Start:      loc[0],
				End:        loc[0] + len(candidate),
				Confidence: dateConfidence,
			})
		}
	}
	return entities
}

// parseDate runs a candidate through dateparse, normalizing German month
// names first and falling back to explicit day-first layouts for the
// numeric German format dateparse reads month-first.
func parseDate(candidate string) (time.Time, bool) {
	normalized := candidate
	for german, english := range germanMonths {
		normalized = strings.ReplaceAll(normalized, german, english)
		normalized = strings.ReplaceAll(normalized, strings.ToLower(german), english)
	}
	// "15. March 2023" -> "15 March 2023"
	if idx := strings.Index(normalized, ". "); idx > 0 && idx <= 2 {
		normalized = normalized[:idx] + normalized[idx+1:]
	}

	if parsed, err := dateparse.ParseAny(normalized); err == nil {
		return parsed, true
	}

	for _, layout := range []string{"2.1.2006", "2.1.06", "2/1/2006", "2 January 2006"} {
		if parsed, err := time.Parse(layout, normalized); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// extractPatternEntities runs the fixed-format identifier regexes with their
// structural validators.
func (s *PatternDetectorSet) extractPatternEntities(text string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entities []Entity
	for entityType, patterns := range s.patterns {
		for _, pattern := range patterns {
			for _, loc := range pattern.FindAllStringIndex(text, -1) {
				candidate := text[loc[0]:loc[1]]
				if !validatePatternMatch(candidate, entityType) {
					continue
				}
				entities = append(entities, Entity{
					Text:       candidate,
					Label:      entityType,
					Start:      loc[0],
					End:        loc[1],
					Confidence: patternConfidence,
				})
			}
		}
	}
	return entities
}

// validatePatternMatch applies the type-specific structural check. A match
// either passes and becomes a span or is dropped; there is no uncertain
// state.
func validatePatternMatch(text, entityType string) bool {
	switch entityType {
	case LabelIBAN:
		if len(text) < 15 || len(text) > 34 {
			return false
		}
		return isAlpha(text[:2])
	case LabelCreditCard:
		digits := strings.NewReplacer("-", "", " ", "").Replace(text)
		return luhnValid(digits)
	case LabelTaxID:
		return len(strings.ReplaceAll(text, "/", "")) >= 8
	case LabelSocialSecurity:
		clean := strings.ReplaceAll(text, "-", "")
		return len(clean) == 9 && isDigits(clean)
	default:
		return true
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// luhnValid reports whether the digit string passes the Luhn checksum.
func luhnValid(number string) bool {
	if !isDigits(number) {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}
