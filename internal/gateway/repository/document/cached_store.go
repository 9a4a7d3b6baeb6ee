package document

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheEntries = 1024

// CachedStore is a read-through, write-through cache in front of another
// Store. Entries hold encoded JSON so cached documents are never shared.
type CachedStore struct {
	origin Store
	docs   *lru.Cache[string, []byte]
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(origin Store, size int) (*CachedStore, error) {
	if origin == nil {
		return nil, fmt.Errorf("origin store is nil")
	}
	if size <= 0 {
		size = DefaultCacheEntries
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, docs: cache}, nil
}

func (s *CachedStore) Get(ctx context.Context, collection, id string) (Document, error) {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return nil, err
	}
	if raw, ok := s.docs.Get(cacheKey(collection, id)); ok {
		return decode(raw)
	}
	doc, err := s.origin.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.remember(collection, id, doc)
	return doc, nil
}

func (s *CachedStore) GetMany(ctx context.Context, collection string, ids []string) (map[string]Document, error) {
	collection = normalizeCollection(collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	out := make(map[string]Document)
	var missing []string
	for _, id := range normalizeIDs(ids) {
		raw, ok := s.docs.Get(cacheKey(collection, id))
		if !ok {
			missing = append(missing, id)
			continue
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := s.origin.GetMany(ctx, collection, missing)
	if err != nil {
		return nil, err
	}
	for id, doc := range fetched {
		s.remember(collection, id, doc)
		out[id] = doc
	}
	return out, nil
}

func (s *CachedStore) Put(ctx context.Context, collection, id string, doc Document) error {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return err
	}
	if err := s.origin.Put(ctx, collection, id, doc); err != nil {
		s.docs.Remove(cacheKey(collection, id))
		return err
	}
	s.remember(collection, id, doc)
	return nil
}

// Len reports the number of cached documents.
func (s *CachedStore) Len() int { return s.docs.Len() }

func (s *CachedStore) remember(collection, id string, doc Document) {
	raw, err := encode(id, doc)
	if err != nil {
		s.docs.Remove(cacheKey(collection, id))
		return
	}
	s.docs.Add(cacheKey(collection, id), raw)
}
