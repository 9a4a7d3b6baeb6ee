package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepreview/internal/preview"
	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

const (
	cmsOrigin  = "http://cms.test"
	siteOrigin = "http://site.test"
)

type mapResolver map[string]merge.Document

func (m mapResolver) Resolve(_ context.Context, req merge.Request) (map[string]merge.Document, error) {
	out := map[string]merge.Document{}
	for _, id := range req.IDs {
		if doc, ok := m[req.Collection+"/"+id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func waitFor(t *testing.T, ch <-chan merge.Document) merge.Document {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for preview update")
		return nil
	}
}

func TestHostAnswersReadyWithFullStateAndSchema(t *testing.T) {
	bus := transport.NewBus()
	fields := []schema.Field{
		{Name: "title", Type: schema.TypeText},
		{Name: "author", Type: schema.TypeRelationship, RelationTo: schema.Relation{"users"}},
	}
	h, err := New(bus.Endpoint(cmsOrigin), Options{PreviewOrigin: siteOrigin, Collection: "pages", Fields: fields})
	require.NoError(t, err)
	defer h.Close()

	// Edits made before the preview mounted are not lost.
	require.NoError(t, h.Update(context.Background(), merge.Document{"title": "Draft", "author": "u1"}))
	assert.Equal(t, merge.Document{"title": "Draft", "author": "u1"}, h.Data())

	client, err := preview.NewClient(preview.Options{
		Transport: bus.Endpoint(siteOrigin),
		Resolver:  mapResolver{"users/u1": {"id": "u1", "name": "Ada"}},
	})
	require.NoError(t, err)
	updates := make(chan merge.Document, 8)
	handle, err := client.Subscribe(func(d merge.Document) { updates <- d }, merge.Document{"title": "Saved"}, cmsOrigin, 1)
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.Ready(context.Background()))
	select {
	case <-h.Ready():
	case <-time.After(time.Second):
		t.Fatalf("host did not see ready")
	}

	got := waitFor(t, updates)
	assert.Equal(t, merge.Document{"title": "Draft", "author": merge.Document{"id": "u1", "name": "Ada"}}, got)

	require.NoError(t, h.Update(context.Background(), merge.Document{"title": "Draft 2", "author": "u1"}))
	got = waitFor(t, updates)
	assert.Equal(t, "Draft 2", got["title"])
	assert.Equal(t, merge.Document{"id": "u1", "name": "Ada"}, got["author"])
}

func TestHostIgnoresReadyFromOtherOrigins(t *testing.T) {
	bus := transport.NewBus()
	h, err := New(bus.Endpoint(cmsOrigin), Options{PreviewOrigin: siteOrigin})
	require.NoError(t, err)
	defer h.Close()

	evil := bus.Endpoint("http://evil.test")
	require.NoError(t, evil.Send(context.Background(), cmsOrigin, []byte(`{"type":"ready"}`)))
	select {
	case <-h.Ready():
		t.Fatalf("ready accepted from untrusted origin")
	default:
	}
}

func TestHostRejectsUpdatesAfterClose(t *testing.T) {
	bus := transport.NewBus()
	h, err := New(bus.Endpoint(cmsOrigin), Options{PreviewOrigin: siteOrigin})
	require.NoError(t, err)
	h.Close()
	assert.ErrorIs(t, h.Update(context.Background(), merge.Document{}), transport.ErrClosed)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{PreviewOrigin: siteOrigin})
	assert.Error(t, err)
	_, err = New(transport.NewBus().Endpoint(cmsOrigin), Options{PreviewOrigin: "nope"})
	assert.Error(t, err)
}

func TestHostSendsSchemaAfterEarlyReady(t *testing.T) {
	bus := transport.NewBus()
	fields := []schema.Field{{Name: "author", Type: schema.TypeRelationship, RelationTo: schema.Relation{"users"}}}
	h, err := New(bus.Endpoint(cmsOrigin), Options{PreviewOrigin: siteOrigin, Collection: "pages", Fields: fields})
	require.NoError(t, err)
	defer h.Close()

	site := bus.Endpoint(siteOrigin)
	received := make(chan message.Message, 4)
	site.OnMessage(func(ev transport.Event) {
		if m, err := message.Decode(ev, cmsOrigin, message.TypeChange); err == nil {
			received <- m
		}
	})

	require.NoError(t, site.Send(context.Background(), cmsOrigin, []byte(`{"type":"ready"}`)))
	<-h.Ready()
	assert.Len(t, received, 0, "nothing to send before the first edit")

	require.NoError(t, h.Update(context.Background(), merge.Document{"author": "u1"}))
	m := <-received
	assert.Equal(t, fields, m.FieldSchema)
	assert.Equal(t, "pages", m.Collection)
}
