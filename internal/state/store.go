package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoEntry       = errors.New("request state entry not found")
	ErrEntryExists   = errors.New("request state entry already exists")
	ErrEmptyToken    = errors.New("request token is empty")
	ErrTokenConsumed = errors.New("request token already destroyed")
)

// Token is an opaque request identity. Tokens are minted by the engine at
// the start of a request and handed to every hook dispatch for that request;
// extensions cannot predict or fabricate them.
type Token struct {
	id string
}

// NewToken mints a fresh request token.
func NewToken() Token {
	return Token{id: uuid.NewString()}
}

// String returns the token id for logging and diagnostics.
func (t Token) String() string {
	return t.id
}

// IsZero reports whether the token has never been minted.
func (t Token) IsZero() bool {
	return t.id == ""
}

// Area is the mutable key-value area one store entry holds for one request.
// Hook dispatch within a request is sequential, but the host may touch the
// area from its own goroutine, so access is guarded.
type Area struct {
	mu   sync.Mutex
	vals map[string]any
}

// Set stores a value under key.
func (a *Area) Set(key string, val any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vals[key] = val
}

// Get returns the value under key and whether it was present.
func (a *Area) Get(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vals[key]
	return v, ok
}

// Delete removes key from the area.
func (a *Area) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vals, key)
}

// Len returns the number of keys in the area.
func (a *Area) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.vals)
}

type entry struct {
	area    *Area
	created time.Time
}

// Store is a request-scoped key-value store. Each extension unit that needs
// cross-hook state owns its own Store, so units never see each other's data.
// Entries are created and destroyed explicitly: nothing reclaims them
// implicitly, and an entry whose cleanup hook never ran stays resident until
// Destroy or SweepOlderThan removes it.
type Store struct {
	mu      sync.Mutex
	entries map[Token]*entry
	now     func() time.Time
}

// NewStore creates an empty request-scoped store.
func NewStore() *Store {
	return &Store{
		entries: make(map[Token]*entry),
		now:     time.Now,
	}
}

// Create allocates the area for token. Creating twice for the same token is
// an error: it would mean the first-position event hook ran twice for one
// request.
func (s *Store) Create(token Token) (*Area, error) {
	if token.IsZero() {
		return nil, ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[token]; exists {
		return nil, fmt.Errorf("token %s: %w", token, ErrEntryExists)
	}
	area := &Area{vals: make(map[string]any)}
	s.entries[token] = &entry{area: area, created: s.now()}
	return area, nil
}

// Get returns the area for token. A missing entry yields ErrNoEntry; a
// correct extension treats that as a logic error (get before create), not a
// condition to recover from silently.
func (s *Store) Get(token Token) (*Area, error) {
	if token.IsZero() {
		return nil, ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", token, ErrNoEntry)
	}
	return e.area, nil
}

// Destroy removes the entry for token. Destroying a token that has no entry
// yields ErrNoEntry so unbalanced create/destroy pairs surface.
func (s *Store) Destroy(token Token) error {
	if token.IsZero() {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[token]; !ok {
		return fmt.Errorf("token %s: %w", token, ErrNoEntry)
	}
	delete(s.entries, token)
	return nil
}

// Len returns the number of live entries. Useful for leak accounting: an
// aborted request leaves its entry behind, and Len does not shrink without
// an explicit Destroy or sweep.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SweepOlderThan removes entries created more than age ago and returns how
// many were removed. This is the out-of-band expiry hosts run when leaked
// entries from aborted requests are unacceptable; it is never called by the
// engine itself.
func (s *Store) SweepOlderThan(age time.Duration) int {
	cutoff := s.now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for tok, e := range s.entries {
		if e.created.Before(cutoff) {
			delete(s.entries, tok)
			removed++
		}
	}
	return removed
}
