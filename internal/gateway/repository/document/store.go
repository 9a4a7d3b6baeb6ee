package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Document = map[string]any

// Store persists documents as JSON per collection and id.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// GetMany returns the documents that exist, keyed by id. Unknown ids are
	// left out rather than reported as errors.
	GetMany(ctx context.Context, collection string, ids []string) (map[string]Document, error)
	Put(ctx context.Context, collection, id string, doc Document) error
}

var ErrNotFound = errors.New("document not found")

func normalizeCollection(collection string) string {
	return strings.ToLower(strings.TrimSpace(collection))
}

func normalizeKey(collection, id string) (string, string, error) {
	collection = normalizeCollection(collection)
	id = strings.TrimSpace(id)
	if collection == "" {
		return "", "", fmt.Errorf("collection is required")
	}
	if id == "" {
		return "", "", fmt.Errorf("id is required")
	}
	return collection, id, nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// encode stores the id inside the document so reads always carry it.
func encode(id string, doc Document) ([]byte, error) {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return json.Marshal(out)
}

func decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not an object")
	}
	return doc, nil
}

func cacheKey(collection, id string) string {
	return collection + "/" + id
}
