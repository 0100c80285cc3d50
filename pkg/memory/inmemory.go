package memory

import (
	"context"
	"sync"
	"time"
)

type entryKey struct {
	owner, key, session string
}

type entry struct {
	value     []byte
	updatedAt time.Time
}

// InMemoryStore is a Store backed by maps, for tests and single-process use.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[entryKey]entry
	sessions map[string]int
	now      func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:  make(map[entryKey]entry),
		sessions: make(map[string]int),
		now:      time.Now,
	}
}

func (s *InMemoryStore) Get(_ context.Context, owner, key, session string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey{owner, key, session}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *InMemoryStore) Set(_ context.Context, owner, key, session string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entryKey{owner, key, session}] = entry{
		value:     append([]byte(nil), value...),
		updatedAt: s.now(),
	}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, owner, key, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, entryKey{owner, key, session})
	return nil
}

func (s *InMemoryStore) NextTurn(_ context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID]++
	return Session{ID: sessionID, Turns: s.sessions[sessionID]}, nil
}

// PurgeShortTerm implements Purger.
func (s *InMemoryStore) PurgeShortTerm(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if k.session != "" && e.updatedAt.Before(before) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
