package readiness

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a thread-safe in-memory readiness store for tests and
// single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record

	// failWith, when set, makes every call fail. Simulates a metadata
	// store outage in tests.
	failWith error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory readiness store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the record for a scope.
func (s *MemoryStore) Get(_ context.Context, scope string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	record, ok := s.records[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
	}

	copied := *record

	return &copied, nil
}

// Upsert stores a copy of the record.
func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	copied := *record
	s.records[record.Scope] = &copied

	return nil
}

// FailWith makes every subsequent call fail with err. Passing nil restores
// normal operation. Test helper.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}
