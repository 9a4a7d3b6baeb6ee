package document

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepreview/internal/gateway/collection"
	docrepo "livepreview/internal/gateway/repository/document"
	"livepreview/internal/gateway/repository/upload"
	"livepreview/internal/preview/schema"
)

type recordingNotifier struct {
	mu    sync.Mutex
	saved []string
}

func (r *recordingNotifier) DocumentSaved(_ context.Context, collection, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, collection+"/"+id)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry := collection.NewRegistry(
		collection.Collection{Slug: "pages", Fields: []schema.Field{
			{Name: "title", Type: schema.TypeText},
			{Name: "author", Type: schema.TypeRelationship, RelationTo: schema.Relation{"users"}},
			{Name: "hero", Type: schema.TypeUpload, RelationTo: schema.Relation{"media"}},
			{Name: "related", Type: schema.TypeRelationship, RelationTo: schema.Relation{"posts", "pages"}, HasMany: true},
		}},
		collection.Collection{Slug: "users", Fields: []schema.Field{
			{Name: "avatar", Type: schema.TypeUpload, RelationTo: schema.Relation{"media"}},
		}},
		collection.Collection{Slug: "media", Upload: true},
	)
	store := docrepo.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pages", "home", Document{
		"title":   "Home",
		"author":  "u1",
		"hero":    "m1",
		"related": []any{map[string]any{"relationTo": "posts", "value": "p1"}, map[string]any{"relationTo": "pages", "value": "missing"}},
	}))
	require.NoError(t, store.Put(ctx, "users", "u1", Document{"name": "Ada", "avatar": "m2"}))
	require.NoError(t, store.Put(ctx, "media", "m1", Document{"filename": "hero.png"}))
	require.NoError(t, store.Put(ctx, "media", "m2", Document{"filename": "ada.png"}))
	require.NoError(t, store.Put(ctx, "posts", "p1", Document{"title": "Post"}))
	return New(store, registry, upload.NewStaticSigner("http://cdn.test"))
}

func TestFindByIDDepthZeroLeavesIDs(t *testing.T) {
	svc := newTestService(t)
	doc, err := svc.FindByID(context.Background(), "pages", "home", 0)
	require.NoError(t, err)
	assert.Equal(t, "u1", doc["author"])
	assert.Equal(t, "m1", doc["hero"])
}

func TestFindByIDPopulatesToDepth(t *testing.T) {
	svc := newTestService(t)

	doc, err := svc.FindByID(context.Background(), "pages", "home", 1)
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "u1", "name": "Ada", "avatar": "m2"}, doc["author"])
	assert.Equal(t, Document{"id": "m1", "filename": "hero.png", "url": "http://cdn.test/media/hero.png"}, doc["hero"])
	assert.Equal(t, []any{
		map[string]any{"relationTo": "posts", "value": Document{"id": "p1", "title": "Post"}},
		map[string]any{"relationTo": "pages", "value": "missing"},
	}, doc["related"])

	doc, err = svc.FindByID(context.Background(), "pages", "home", 2)
	require.NoError(t, err)
	author := doc["author"].(Document)
	assert.Equal(t, Document{"id": "m2", "filename": "ada.png", "url": "http://cdn.test/media/ada.png"}, author["avatar"])
}

func TestFindKeepsRequestOrderAndLimit(t *testing.T) {
	svc := newTestService(t)
	docs, err := svc.Find(context.Background(), FindParams{Collection: "media", IDs: []string{"m2", "nope", "m1", "m2"}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m2", docs[0]["id"])
	assert.Equal(t, "m1", docs[1]["id"])
	assert.Equal(t, "http://cdn.test/media/ada.png", docs[0]["url"])

	docs, err = svc.Find(context.Background(), FindParams{Collection: "media", IDs: []string{"m2", "m1"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = svc.Find(context.Background(), FindParams{IDs: []string{"x"}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSaveNotifies(t *testing.T) {
	svc := newTestService(t)
	n := &recordingNotifier{}
	svc.SetNotifier(n)

	saved, err := svc.Save(context.Background(), "Posts", "p1", Document{"title": "Post 2"})
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "p1", "title": "Post 2"}, saved)
	assert.Equal(t, []string{"posts/p1"}, n.saved)

	_, err = svc.Save(context.Background(), "posts", "p1", nil)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Len(t, n.saved, 1)

	_, err = svc.FindByID(context.Background(), "posts", "nope", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
