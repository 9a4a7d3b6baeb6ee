package document

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"livepreview/internal/gateway/collection"
	docrepo "livepreview/internal/gateway/repository/document"
	"livepreview/internal/gateway/repository/upload"
	"livepreview/internal/preview/schema"
)

type Document = docrepo.Document

// MaxDepth bounds population so self-referencing collections terminate
// quickly even when a client asks for more.
const MaxDepth = 10

var (
	ErrNotFound = docrepo.ErrNotFound
	ErrInvalid  = errors.New("invalid document request")
)

// Notifier is told about every saved document.
type Notifier interface {
	DocumentSaved(ctx context.Context, collection, id string)
}

type Service struct {
	store       docrepo.Store
	collections *collection.Registry
	uploads     upload.Signer
	notifier    Notifier
}

func New(store docrepo.Store, collections *collection.Registry, uploads upload.Signer) *Service {
	if collections == nil {
		collections = collection.NewRegistry()
	}
	return &Service{store: store, collections: collections, uploads: uploads}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

type FindParams struct {
	Collection string
	IDs        []string
	Depth      int
	Limit      int
	// Locale is accepted for API compatibility; documents are not localized.
	Locale string
}

// Find returns the documents with the given ids in request order, populated
// to Depth. Unknown ids are skipped.
func (s *Service) Find(ctx context.Context, p FindParams) ([]Document, error) {
	slug := strings.TrimSpace(p.Collection)
	if slug == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalid)
	}
	if len(p.IDs) == 0 {
		return []Document{}, nil
	}
	found, err := s.store.GetMany(ctx, slug, p.IDs)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(found))
	seen := make(map[string]struct{}, len(p.IDs))
	for _, id := range p.IDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
		}
		if p.Limit > 0 && len(docs) == p.Limit {
			break
		}
	}
	if err := s.populate(ctx, slug, docs, clampDepth(p.Depth)); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) FindByID(ctx context.Context, slug, id string, depth int) (Document, error) {
	doc, err := s.store.Get(ctx, slug, id)
	if err != nil {
		return nil, err
	}
	if err := s.populate(ctx, slug, []Document{doc}, clampDepth(depth)); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save stores doc and notifies connected previews that it changed.
func (s *Service) Save(ctx context.Context, slug, id string, doc Document) (Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document must be an object", ErrInvalid)
	}
	if err := s.store.Put(ctx, slug, id, doc); err != nil {
		return nil, err
	}
	saved, err := s.store.Get(ctx, slug, id)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.DocumentSaved(ctx, strings.ToLower(strings.TrimSpace(slug)), strings.TrimSpace(id))
	}
	return saved, nil
}

// populate replaces relationship and upload ids in docs with the documents
// they point to, recursing with depth-1 into the related documents.
func (s *Service) populate(ctx context.Context, slug string, docs []Document, depth int) error {
	col, _ := s.collections.Get(slug)
	if col.Upload {
		for _, doc := range docs {
			s.decorateUpload(ctx, col.Slug, doc)
		}
	}
	if depth <= 0 || len(col.Fields) == 0 || len(docs) == 0 {
		return nil
	}

	pending := make(map[string]map[string]struct{})
	for _, doc := range docs {
		schema.Visit(col.Fields, doc, func(_ schema.Field, ref schema.Ref, _ any) {
			if ref.Populated {
				return
			}
			ids, ok := pending[ref.Collection]
			if !ok {
				ids = make(map[string]struct{})
				pending[ref.Collection] = ids
			}
			ids[ref.ID] = struct{}{}
		})
	}
	if len(pending) == 0 {
		return nil
	}

	collections := make([]string, 0, len(pending))
	for c := range pending {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	fetched := make(map[string]map[string]Document, len(pending))
	for _, c := range collections {
		ids := make([]string, 0, len(pending[c]))
		for id := range pending[c] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		got, err := s.store.GetMany(ctx, c, ids)
		if err != nil {
			return fmt.Errorf("populate %s: %w", c, err)
		}
		related := make([]Document, 0, len(got))
		for _, id := range ids {
			if doc, ok := got[id]; ok {
				related = append(related, doc)
			}
		}
		if err := s.populate(ctx, c, related, depth-1); err != nil {
			return err
		}
		fetched[c] = got
	}

	for _, doc := range docs {
		schema.Rewrite(col.Fields, doc, func(_ schema.Field, ref schema.Ref, value any) any {
			if ref.Populated {
				return value
			}
			if related, ok := fetched[ref.Collection][ref.ID]; ok {
				return related
			}
			return value
		})
	}
	return nil
}

func (s *Service) decorateUpload(ctx context.Context, slug string, doc Document) {
	if s.uploads == nil || doc == nil {
		return
	}
	filename, _ := doc["filename"].(string)
	if strings.TrimSpace(filename) == "" {
		return
	}
	u, err := s.uploads.URL(ctx, slug, filename)
	if err != nil {
		log.Printf("upload url for %s/%s failed: %v", slug, filename, err)
		return
	}
	doc["url"] = u
}

func clampDepth(depth int) int {
	if depth < 0 {
		return 0
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}
