package document

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps encoded documents so callers never share maps with it.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.docs[cacheKey(collection, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (s *MemoryStore) GetMany(_ context.Context, collection string, ids []string) (map[string]Document, error) {
	collection = normalizeCollection(collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	out := make(map[string]Document)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range normalizeIDs(ids) {
		raw, ok := s.docs[cacheKey(collection, id)]
		if !ok {
			continue
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, collection, id string, doc Document) error {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return err
	}
	raw, err := encode(id, doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[cacheKey(collection, id)] = raw
	s.mu.Unlock()
	return nil
}
