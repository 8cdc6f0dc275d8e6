package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is a thread-safe in-memory ObjectStore for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	metadata map[string]map[string]string
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

// Put stores a copy of data and metadata under key.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s.mu.Lock()
	s.objects[key] = stored
	s.metadata[key] = meta
	s.mu.Unlock()

	return nil
}

// Get returns a copy of the data under key, or ErrObjectNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Delete removes the object under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	delete(s.metadata, key)
	s.mu.Unlock()

	return nil
}

// List returns the keys under a prefix.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string

	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Metadata returns the stored metadata for key. Test helper.
func (s *MemoryStore) Metadata(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.metadata[key]
}
