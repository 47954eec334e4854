package engine

import (
	"fmt"
	"sync"

	"github.com/MRamiBalles/needsim/internal/domain/character"
)

// Entry is a stored character together with the mutex that serializes access to it.
// Once retired, an entry rejects further access even if a caller still holds it
// from an earlier List.
type Entry struct {
	mu        sync.Mutex
	character *character.Character
	removed   bool
}

// ID returns the character id. It is immutable and safe to read without the lock.
func (e *Entry) ID() string {
	return e.character.ID
}

// Do runs fn with exclusive access to the character. It reports false, without
// calling fn, when the entry has been retired.
func (e *Entry) Do(fn func(c *character.Character)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	fn(e.character)
	return true
}

// retire marks the entry removed and runs fn under the same lock.
// It reports false if the entry was already retired.
func (e *Entry) retire(fn func(c *character.Character)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	e.removed = true
	fn(e.character)
	return true
}

// Store is the ordered in-memory collection of characters.
type Store struct {
	mu      sync.RWMutex
	order   []*Entry
	entries map[string]*Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		order:   make([]*Entry, 0),
		entries: make(map[string]*Entry),
	}
}

// Add appends a character. Ids must be unique.
func (s *Store) Add(c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[c.ID]; exists {
		return fmt.Errorf("add %q: %w", c.ID, ErrDuplicateCharacter)
	}
	e := &Entry{character: c}
	s.entries[c.ID] = e
	s.order = append(s.order, e)
	return nil
}

// Remove deletes a character and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)

	order := make([]*Entry, 0, len(s.order)-1)
	for _, other := range s.order {
		if other != e {
			order = append(order, other)
		}
	}
	s.order = order
	return true
}

// Get returns the entry for id.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// List returns the entries in insertion order.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Entry(nil), s.order...)
}

// Len returns the number of stored characters.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
