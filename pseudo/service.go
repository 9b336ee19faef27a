// Package pseudo implements session-consistent text pseudonymization:
// language-aware entity recognition, rule-based pattern detection and
// deterministic placeholder substitution that can be reversed through the
// session mapping table.
package pseudo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hannes/textpseudonymizer/config"
	"github.com/hannes/textpseudonymizer/pseudo/detectors"
	"github.com/hannes/textpseudonymizer/pseudo/langdetect"
	"github.com/hannes/textpseudonymizer/pseudo/mapping"
)

// LanguageAuto requests batch-level language detection.
const LanguageAuto = "auto"

// DefaultMinConfidence is the recognition threshold applied when the caller
// does not supply one.
const DefaultMinConfidence = 0.5

// Options control one pseudonymization request.
type Options struct {
	// Language is an ISO 639-1 code, or "auto" for detection. Unknown values
	// behave like "auto".
	Language string
	// SessionID selects the mapping session. Empty means a fresh generated
	// session.
	SessionID string
	// MinConfidence filters statistical entities. Clamped into [0,1].
	// Pattern-detected entities are structurally validated and not subject
	// to this threshold.
	MinConfidence float64
	// PreserveFormatting adapts placeholder casing to the original span.
	PreserveFormatting bool
}

// DefaultOptions returns the option set used when the caller passes nil.
func DefaultOptions() Options {
	return Options{
		Language:           LanguageAuto,
		MinConfidence:      DefaultMinConfidence,
		PreserveFormatting: true,
	}
}

// Result is the outcome of one pseudonymization request. Texts holds the
// outputs in input order.
type Result struct {
	Texts              []string `json:"pseudonymized_texts"`
	SessionID          string   `json:"session_id"`
	Language           string   `json:"detected_language"`
	LanguageConfidence float64  `json:"language_confidence"`
	EntityCount        int      `json:"entity_count"`
}

// DetectionResult is the outcome of standalone language detection.
type DetectionResult struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Supported  bool    `json:"supported"`
}

// SessionMappings bundles a session's mapping table with its statistics.
type SessionMappings struct {
	SessionID  string             `json:"session_id"`
	Mappings   map[string]string  `json:"mappings"`
	Statistics mapping.Statistics `json:"statistics"`
}

// ServiceStatistics summarizes service-wide state.
type ServiceStatistics struct {
	TotalSessions          int      `json:"total_sessions"`
	TotalEntitiesProcessed int64    `json:"total_entities_processed"`
	SupportedLanguages     []string `json:"supported_languages"`
	NERModelsLoaded        int      `json:"ner_models_loaded"`
	ExtendedEntityTypes    []string `json:"extended_entity_types"`
}

// TextPseudonymizer orchestrates the pipeline: language detection, entity
// recognition, pattern detection, overlap resolution and session-consistent
// substitution. Safe for concurrent use.
type TextPseudonymizer struct {
	detector   *langdetect.Detector
	recognizer *EntityRecognizer
	patterns   *detectors.PatternDetectorSet
	sessions   *mapping.SessionStore
	db         *SQLiteSessionDB

	defaultLanguage   string
	minConfidence     float64
	logging           config.LoggingConfig
	entitiesProcessed atomic.Int64
}

// New creates the pseudonymizer from configuration. When persistence is
// enabled the session database is opened before any session is created.
func New(ctx context.Context, cfg *config.Config) (*TextPseudonymizer, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	p := &TextPseudonymizer{
		detector:        langdetect.New(),
		recognizer:      NewEntityRecognizer(cfg.ModelDir),
		patterns:        detectors.NewPatternDetectorSet(),
		defaultLanguage: cfg.DefaultLanguage,
		minConfidence:   clampConfidence(cfg.MinConfidence),
		logging:         cfg.Logging,
	}
	if !langdetect.IsSupported(p.defaultLanguage) {
		p.defaultLanguage = langdetect.DefaultLanguage
	}

	if cfg.Database.Enabled {
		db, err := NewSQLiteSessionDB(ctx, DatabaseConfig{Path: cfg.Database.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		p.db = db
		p.sessions = mapping.NewSessionStoreWithBackend(db)
		log.Printf("[Pseudonymizer] Session persistence enabled at %s", cfg.Database.Path)
	} else {
		p.sessions = mapping.NewSessionStore()
	}

	if len(cfg.CustomPatterns) > 0 {
		p.patterns.ConfigurePatterns(cfg.CustomPatterns)
	}

	return p, nil
}

// PseudonymizeText processes a single text.
func (p *TextPseudonymizer) PseudonymizeText(ctx context.Context, text string, opts *Options) (string, *Result, error) {
	result, err := p.PseudonymizeBatch(ctx, []string{text}, opts)
	if err != nil {
		return "", nil, err
	}
	return result.Texts[0], result, nil
}

// PseudonymizeBatch processes a batch of texts through one session. The
// language is resolved once for the whole batch, from the first non-empty
// text when detection is requested, so all texts share one model.
func (p *TextPseudonymizer) PseudonymizeBatch(ctx context.Context, texts []string, opts *Options) (*Result, error) {
	options := p.defaultOptions()
	if opts != nil {
		options = *opts
	}
	if err := validateSessionID(options.SessionID); err != nil {
		return nil, err
	}
	minConfidence := clampConfidence(options.MinConfidence)

	language, confidence := p.resolveLanguage(texts, options.Language)
	mapper := p.sessions.GetOrCreate(strings.TrimSpace(options.SessionID))

	result := &Result{
		Texts:              make([]string, 0, len(texts)),
		SessionID:          mapper.SessionID(),
		Language:           language,
		LanguageConfidence: confidence,
	}

	for _, text := range texts {
		output, count, err := p.pseudonymizeOne(ctx, text, language, minConfidence, options.PreserveFormatting, mapper)
		if err != nil {
			return nil, err
		}
		result.Texts = append(result.Texts, output)
		result.EntityCount += count
	}

	p.entitiesProcessed.Add(int64(result.EntityCount))
	if p.logging.LogRequests {
		log.Printf("[Pseudonymizer] Processed %d texts: %d entities substituted (language %s, session %s)",
			len(texts), result.EntityCount, language, result.SessionID)
	}
	return result, nil
}

// defaultOptions returns DefaultOptions seeded with the configured
// recognition threshold.
func (p *TextPseudonymizer) defaultOptions() Options {
	options := DefaultOptions()
	options.MinConfidence = p.minConfidence
	return options
}

// resolveLanguage turns the requested language into a supported code plus a
// detection confidence. Explicit supported codes are trusted with
// confidence 1; everything else goes through detection on the first
// non-empty text.
func (p *TextPseudonymizer) resolveLanguage(texts []string, requested string) (string, float64) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested != "" && requested != LanguageAuto {
		if langdetect.IsSupported(requested) {
			return requested, 1.0
		}
		log.Printf("[Pseudonymizer] Unknown language %q requested, detecting instead", requested)
	}

	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			return p.detector.Detect(text)
		}
	}
	return p.defaultLanguage, 0.0
}

// pseudonymizeOne runs the detection pipeline over one text and splices the
// placeholders in. Returns the rewritten text and the number of substituted
// spans.
func (p *TextPseudonymizer) pseudonymizeOne(ctx context.Context, text, language string, minConfidence float64, preserveFormatting bool, mapper *mapping.EntityMapper) (string, int, error) {
	if strings.TrimSpace(text) == "" {
		return text, 0, nil
	}

	recognized, err := p.recognizer.Extract(ctx, text, language)
	if err != nil {
		return "", 0, &ServiceError{
			Code:    CodeEntityExtractionFailed,
			Message: "entity extraction failed: " + err.Error(),
			Details: map[string]string{"language": language},
		}
	}
	recognized = detectors.FilterByConfidence(recognized, minConfidence)

	// Pattern spans are already validated structurally and bypass the
	// confidence threshold.
	patternSpans := p.patterns.Detect(text, language)

	merged := detectors.MergeOverlapping(append(recognized, patternSpans...))

	output, count := spliceEntities(text, merged, mapper, preserveFormatting, p.logging.LogVerbose)
	return output, count, nil
}

// spliceEntities replaces the merged spans with their pseudonyms, back to
// front so earlier offsets stay valid. Returns the rewritten text and the
// number of spans actually substituted; spans with offsets that do not fit
// the text are skipped and not counted.
func spliceEntities(text string, merged []detectors.Entity, mapper *mapping.EntityMapper, preserveFormatting, verbose bool) (string, int) {
	output := text
	count := 0
	for i := len(merged) - 1; i >= 0; i-- {
		entity := merged[i]
		if entity.Start < 0 || entity.End > len(text) || entity.Start >= entity.End {
			log.Printf("[Pseudonymizer] Skipping %s span with invalid offsets [%d,%d)", entity.Label, entity.Start, entity.End)
			continue
		}
		pseudonym := mapper.GetOrCreatePseudonym(entity.Text, entity.Label)
		if preserveFormatting {
			pseudonym = matchCasing(entity.Text, pseudonym)
		}
		if verbose {
			log.Printf("[Pseudonymizer] %s %q -> %s", entity.Label, entity.Text, pseudonym)
		}
		output = output[:entity.Start] + pseudonym + output[entity.End:]
		count++
	}
	return output, count
}

// matchCasing adapts a placeholder to the casing of the original span.
// All-upper originals keep the placeholder upper, all-lower originals
// lower it, anything mixed keeps the placeholder as generated.
func matchCasing(original, pseudonym string) string {
	switch {
	case original == strings.ToUpper(original) && original != strings.ToLower(original):
		return strings.ToUpper(pseudonym)
	case original == strings.ToLower(original) && original != strings.ToUpper(original):
		return strings.ToLower(pseudonym)
	default:
		return pseudonym
	}
}

// DetectLanguage exposes standalone language detection.
func (p *TextPseudonymizer) DetectLanguage(text string) DetectionResult {
	language, confidence := p.detector.Detect(text)
	return DetectionResult{
		Language:   language,
		Confidence: confidence,
		Supported:  langdetect.IsSupported(language),
	}
}

// ListSupportedLanguages returns the languages with NER models.
func (p *TextPseudonymizer) ListSupportedLanguages() []langdetect.LanguageInfo {
	return langdetect.SupportedLanguages()
}

// GetEntityMappings returns the mapping table of a session. An explicit
// unknown session id is an error; an empty id selects the most recent
// session, creating one when none exists yet.
func (p *TextPseudonymizer) GetEntityMappings(sessionID string) (*SessionMappings, error) {
	mapper, err := p.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionMappings{
		SessionID:  mapper.SessionID(),
		Mappings:   mapper.AllMappings(),
		Statistics: mapper.Statistics(),
	}, nil
}

// ClearSession deletes a session and its mappings.
func (p *TextPseudonymizer) ClearSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return invalidInput("session id is required", "session_id")
	}
	if !p.sessions.Delete(sessionID) {
		return sessionNotFound(sessionID)
	}
	return nil
}

// ListSessions returns all known session ids.
func (p *TextPseudonymizer) ListSessions() []string {
	return p.sessions.List()
}

// ExportMappings serializes a session as a JSON document.
func (p *TextPseudonymizer) ExportMappings(sessionID string) (string, error) {
	mapper, err := p.resolveSession(sessionID)
	if err != nil {
		return "", err
	}
	return mapper.Export()
}

// ImportMappings loads an exported document into the session, replacing its
// contents. Counters continue past the imported pseudonyms.
func (p *TextPseudonymizer) ImportMappings(sessionID, jsonData string) (*SessionMappings, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	mapper := p.sessions.GetOrCreate(strings.TrimSpace(sessionID))
	if err := mapper.Import(jsonData); err != nil {
		return nil, importFailed(err)
	}
	return &SessionMappings{
		SessionID:  mapper.SessionID(),
		Mappings:   mapper.AllMappings(),
		Statistics: mapper.Statistics(),
	}, nil
}

// GetServiceStatistics returns service-wide counters.
func (p *TextPseudonymizer) GetServiceStatistics() ServiceStatistics {
	return ServiceStatistics{
		TotalSessions:          len(p.sessions.List()),
		TotalEntitiesProcessed: p.entitiesProcessed.Load(),
		SupportedLanguages:     langdetect.SupportedCodes(),
		NERModelsLoaded:        p.recognizer.LoadedModels(),
		ExtendedEntityTypes:    p.patterns.SupportedEntityTypes(),
	}
}

// resolveSession maps a caller-supplied session id to a mapper. An explicit
// id must name an existing session; an empty id falls back to the most
// recent session or a fresh one.
func (p *TextPseudonymizer) resolveSession(sessionID string) (*mapping.EntityMapper, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		if mapper, ok := p.sessions.MostRecent(); ok {
			return mapper, nil
		}
		return p.sessions.GetOrCreate(""), nil
	}

	mapper, ok := p.sessions.Get(sessionID)
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	return mapper, nil
}

// CleanupSessions removes persisted sessions whose newest mapping is older
// than the given duration. Without persistence there is nothing to clean.
func (p *TextPseudonymizer) CleanupSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	if p.db == nil {
		return 0, nil
	}
	return p.db.CleanupOldSessions(ctx, olderThan)
}

// Close releases the loaded models and the session database.
func (p *TextPseudonymizer) Close() error {
	err := p.recognizer.Unload()
	if p.db != nil {
		if dbErr := p.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}
