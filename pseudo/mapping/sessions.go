package mapping

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// SessionBackend persists session mappings across process restarts. The
// in-memory store works without one.
type SessionBackend interface {
	SaveMapping(ctx context.Context, row Mapping) error
	LoadSession(ctx context.Context, sessionID string) ([]Mapping, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
}

// SessionStore owns the lifecycle of named EntityMapper instances: sessions
// are created on first reference and live until explicitly deleted or the
// process exits. Safe for concurrent use; mappers for different sessions
// never interfere.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*EntityMapper
	order    []string // creation order, newest last
	backend  SessionBackend
}

// NewSessionStore creates an in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*EntityMapper)}
}

// NewSessionStoreWithBackend creates a store that persists mappings through
// the backend and reloads sessions lazily on first reference.
func NewSessionStoreWithBackend(backend SessionBackend) *SessionStore {
	return &SessionStore{sessions: make(map[string]*EntityMapper), backend: backend}
}

// GetOrCreate returns the mapper for the session, creating it on first
// reference. An empty id gets a generated one. A session is never created
// twice for the same id, even under concurrent first use.
func (s *SessionStore) GetOrCreate(sessionID string) *EntityMapper {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.RLock()
	mapper, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return mapper
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mapper, ok := s.sessions[sessionID]; ok {
		return mapper
	}

	mapper = NewEntityMapper(sessionID)
	if s.backend != nil {
		if rows, err := s.backend.LoadSession(context.Background(), sessionID); err != nil {
			log.Printf("[SessionStore] Warning: failed to load session %s from backend: %v", sessionID, err)
		} else if len(rows) > 0 {
			mapper.Restore(rows)
			log.Printf("[SessionStore] Restored session %s with %d mappings", sessionID, len(rows))
		}
		backend := s.backend
		mapper.SetCreateHook(func(row Mapping) {
			if err := backend.SaveMapping(context.Background(), row); err != nil {
				log.Printf("[SessionStore] Warning: failed to persist mapping for session %s: %v", sessionID, err)
			}
		})
	}

	s.sessions[sessionID] = mapper
	s.order = append(s.order, sessionID)
	log.Printf("[SessionStore] Created new mapping session: %s", sessionID)
	return mapper
}

// Get returns the mapper for an existing session, or false when the session
// is unknown.
func (s *SessionStore) Get(sessionID string) (*EntityMapper, bool) {
	s.mu.RLock()
	mapper, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return mapper, true
	}

	// A persisted session may exist that this process has not touched yet.
	if s.backend != nil {
		ids, err := s.backend.ListSessions(context.Background())
		if err == nil {
			for _, id := range ids {
				if id == sessionID {
					return s.GetOrCreate(sessionID), true
				}
			}
		}
	}
	return nil, false
}

// Delete removes a session and its persisted rows. Returns false when the
// session does not exist.
func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		for i, id := range s.order {
			if id == sessionID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.DeleteSession(context.Background(), sessionID); err != nil {
			log.Printf("[SessionStore] Warning: failed to delete persisted session %s: %v", sessionID, err)
		} else if !ok {
			// Present only in the backend still counts as deleted.
			ok = true
		}
	}

	if ok {
		log.Printf("[SessionStore] Deleted mapping session: %s", sessionID)
	}
	return ok
}

// List returns all known session ids, in-memory and persisted, sorted.
func (s *SessionStore) List() []string {
	seen := make(map[string]struct{})

	s.mu.RLock()
	for id := range s.sessions {
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()

	if s.backend != nil {
		if ids, err := s.backend.ListSessions(context.Background()); err != nil {
			log.Printf("[SessionStore] Warning: failed to list persisted sessions: %v", err)
		} else {
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MostRecent returns the most recently created in-memory session.
func (s *SessionStore) MostRecent() (*EntityMapper, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, false
	}
	mapper, ok := s.sessions[s.order[len(s.order)-1]]
	return mapper, ok
}

// Count returns the number of in-memory sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
