// Package server implements the in-memory session store that holds the
// authoritative state every connected client synchronizes against.
package server

import "github.com/google/uuid"

// Session is a shared editing context: the current document text, the
// selected language, and the set of member connection ids.
type Session struct {
	ID       string
	Code     string
	Language string
	Members  map[string]struct{}
}

// MemberCount returns the number of connections currently in the session.
func (s *Session) MemberCount() int {
	return len(s.Members)
}

// SessionDefaults holds the initial content of a freshly created session.
type SessionDefaults struct {
	Code     string
	Language string
}

// Store is the authoritative mapping of session id to session state.
//
// Store is not safe for concurrent use; all access must happen on the hub's
// event loop goroutine (or within a single test goroutine).
type Store struct {
	defaults SessionDefaults
	sessions map[string]*Session
}

// NewStore creates an empty Store whose sessions start with the given defaults.
func NewStore(defaults SessionDefaults) *Store {
	return &Store{
		defaults: defaults,
		sessions: make(map[string]*Session),
	}
}

// Create returns the session with the given id, constructing it with default
// content if it does not exist. An empty id allocates a fresh random identity.
func (s *Store) Create(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := s.sessions[id]; ok {
		return existing
	}
	session := &Session{
		ID:       id,
		Code:     s.defaults.Code,
		Language: s.defaults.Language,
		Members:  make(map[string]struct{}),
	}
	s.sessions[id] = session
	return session
}

// Get returns the session with the given id, if present.
func (s *Store) Get(id string) (*Session, bool) {
	session, ok := s.sessions[id]
	return session, ok
}

// Delete removes the session with the given id. Deleting an absent id is a
// no-op.
func (s *Store) Delete(id string) {
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return len(s.sessions)
}
