// Package mapping maintains the session-scoped entity-to-pseudonym tables
// that make pseudonymization consistent: the same original value always
// yields the same placeholder, and distinct values of one type get distinct,
// incrementing placeholders.
package mapping

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mapping is one original-to-pseudonym row. Rows are created at most once
// per (normalized original, entity type) key and never mutated afterwards.
type Mapping struct {
	Original   string `json:"original"`
	Pseudonym  string `json:"pseudonym"`
	EntityType string `json:"entity_type"`
	SessionID  string `json:"session_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Statistics summarizes the mappings of one session.
type Statistics struct {
	TotalEntities  int            `json:"total_entities"`
	ByType         map[string]int `json:"by_type"`
	UniqueEntities int            `json:"unique_entities"`
	SessionID      string         `json:"session_id"`
}

// pseudonymPrefixes maps NER tags to readable placeholder prefixes. Types
// without an entry use the type string itself as prefix.
var pseudonymPrefixes = map[string]string{
	"PER":     "PERSON",
	"LOC":     "LOCATION",
	"ORG":     "ORGANIZATION",
	"MISC":    "MISC",
	"DATE":    "DATE",
	"EMAIL":   "EMAIL",
	"PHONE":   "PHONE",
	"ID":      "ID",
	"IBAN":    "IBAN",
	"LICENSE": "LICENSE",
}

// EntityMapper manages the consistent entity-to-pseudonym mappings of one
// session. All methods are safe for concurrent use; the check-then-act in
// GetOrCreatePseudonym is guarded so counters never race.
type EntityMapper struct {
	sessionID string

	mu           sync.Mutex
	mappings     map[string]Mapping
	typeCounters map[string]int
	reverse      map[string]string
	onCreate     func(Mapping)
}

// NewEntityMapper creates a mapper for the session, generating a session id
// when none is given.
func NewEntityMapper(sessionID string) *EntityMapper {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &EntityMapper{
		sessionID:    sessionID,
		mappings:     make(map[string]Mapping),
		typeCounters: make(map[string]int),
		reverse:      make(map[string]string),
	}
}

// SessionID returns the session this mapper belongs to.
func (m *EntityMapper) SessionID() string {
	return m.sessionID
}

// SetCreateHook registers a callback invoked for every newly created
// mapping, used for persistence. Must be set before the mapper is shared.
func (m *EntityMapper) SetCreateHook(fn func(Mapping)) {
	m.onCreate = fn
}

// normalizeEntityText makes casing-only variants of one real-world entity
// share a single mapping key.
func normalizeEntityText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func mappingKey(text, entityType string) string {
	return normalizeEntityText(text) + ":" + entityType
}

// generatePseudonym builds "<PREFIX>_<counter>" for the type.
func generatePseudonym(entityType string, counter int) string {
	prefix, ok := pseudonymPrefixes[entityType]
	if !ok {
		prefix = entityType
	}
	return fmt.Sprintf("%s_%d", prefix, counter)
}

// GetOrCreatePseudonym returns the existing pseudonym for the entity or
// creates a new one. Counters per type are strictly increasing and never
// reused.
func (m *EntityMapper) GetOrCreatePseudonym(entityText, entityType string) string {
	key := mappingKey(entityText, entityType)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.mappings[key]; ok {
		return existing.Pseudonym
	}

	m.typeCounters[entityType]++
	pseudonym := generatePseudonym(entityType, m.typeCounters[entityType])

	row := Mapping{
		Original:   entityText,
		Pseudonym:  pseudonym,
		EntityType: entityType,
		SessionID:  m.sessionID,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	m.mappings[key] = row
	m.reverse[pseudonym] = entityText

	if m.onCreate != nil {
		m.onCreate(row)
	}
	return pseudonym
}

// MappingFor returns the existing pseudonym for an entity without creating
// one.
func (m *EntityMapper) MappingFor(entityText, entityType string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.mappings[mappingKey(entityText, entityType)]
	if !ok {
		return "", false
	}
	return row.Pseudonym, true
}

// OriginalForPseudonym resolves a pseudonym back to its original text.
func (m *EntityMapper) OriginalForPseudonym(pseudonym string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.reverse[pseudonym]
	return original, ok
}

// AllMappings returns the original-to-pseudonym table.
func (m *EntityMapper) AllMappings() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(m.mappings))
	for _, row := range m.mappings {
		result[row.Original] = row.Pseudonym
	}
	return result
}

// Statistics returns counts for the current mapping table.
func (m *EntityMapper) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]int)
	originals := make(map[string]struct{})
	for _, row := range m.mappings {
		byType[row.EntityType]++
		originals[row.Original] = struct{}{}
	}

	return Statistics{
		TotalEntities:  len(m.mappings),
		ByType:         byType,
		UniqueEntities: len(originals),
		SessionID:      m.sessionID,
	}
}

// exportDocument is the serialized form of a session.
type exportDocument struct {
	SessionID  string           `json:"session_id"`
	Mappings   []Mapping        `json:"mappings"`
	Statistics exportStatistics `json:"statistics"`
}

type exportStatistics struct {
	TotalEntities  int            `json:"total_entities"`
	ByType         map[string]int `json:"by_type"`
	UniqueEntities int            `json:"unique_entities"`
}

// Export serializes the full session (mappings plus counters) as a JSON
// document suitable for Import.
func (m *EntityMapper) Export() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]Mapping, 0, len(m.mappings))
	originals := make(map[string]struct{})
	for _, row := range m.mappings {
		row.SessionID = "" // carried at document level
		rows = append(rows, row)
		originals[row.Original] = struct{}{}
	}
	// Stable row order: by type, then by counter suffix.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EntityType != rows[j].EntityType {
			return rows[i].EntityType < rows[j].EntityType
		}
		return pseudonymCounter(rows[i].Pseudonym) < pseudonymCounter(rows[j].Pseudonym)
	})

	counters := make(map[string]int, len(m.typeCounters))
	for entityType, counter := range m.typeCounters {
		counters[entityType] = counter
	}

	doc := exportDocument{
		SessionID: m.sessionID,
		Mappings:  rows,
		Statistics: exportStatistics{
			TotalEntities:  len(m.mappings),
			ByType:         counters,
			UniqueEntities: len(originals),
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal mappings: %w", err)
	}
	return string(data), nil
}

// Import replaces the mapper's contents with the mappings from an exported
// document. Counters are reconstructed from the maximum numeric suffix per
// type so that later GetOrCreatePseudonym calls never collide with imported
// pseudonyms.
func (m *EntityMapper) Import(jsonData string) error {
	var doc exportDocument
	if err := json.Unmarshal([]byte(jsonData), &doc); err != nil {
		return fmt.Errorf("failed to parse mappings document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.restoreLocked(doc.Mappings)
	log.Printf("[EntityMapper] Imported %d mappings into session %s", len(m.mappings), m.sessionID)
	return nil
}

// Restore loads previously persisted rows into an empty mapper, rebuilding
// indexes and counters the same way Import does.
func (m *EntityMapper) Restore(rows []Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreLocked(rows)
}

func (m *EntityMapper) restoreLocked(rows []Mapping) {
	m.mappings = make(map[string]Mapping, len(rows))
	m.reverse = make(map[string]string, len(rows))
	m.typeCounters = make(map[string]int)

	for _, row := range rows {
		if row.CreatedAt == "" {
			row.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		}
		row.SessionID = m.sessionID
		m.mappings[mappingKey(row.Original, row.EntityType)] = row
		m.reverse[row.Pseudonym] = row.Original
	}

	for _, row := range m.mappings {
		if counter := pseudonymCounter(row.Pseudonym); counter > 0 {
			if counter > m.typeCounters[row.EntityType] {
				m.typeCounters[row.EntityType] = counter
			}
		} else {
			// Foreign pseudonym format; keep counters moving anyway.
			m.typeCounters[row.EntityType]++
		}
	}
}

// pseudonymCounter extracts the numeric suffix of a pseudonym, or 0 when
// the format is foreign.
func pseudonymCounter(pseudonym string) int {
	idx := strings.LastIndex(pseudonym, "_")
	if idx < 0 {
		return 0
	}
	counter, err := strconv.Atoi(pseudonym[idx+1:])
	if err != nil || counter < 0 {
		return 0
	}
	return counter
}

// Rows returns a copy of all mapping rows, in no particular order.
func (m *EntityMapper) Rows() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]Mapping, 0, len(m.mappings))
	for _, row := range m.mappings {
		rows = append(rows, row)
	}
	return rows
}

// Clear removes all mappings and resets the counters.
func (m *EntityMapper) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mappings = make(map[string]Mapping)
	m.reverse = make(map[string]string)
	m.typeCounters = make(map[string]int)
	log.Printf("[EntityMapper] Cleared all mappings for session: %s", m.sessionID)
}
