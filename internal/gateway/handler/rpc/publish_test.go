package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"livepreview/internal/gateway/collection"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

type published struct {
	room, origin, target string
	data                 json.RawMessage
}

type fakeHub struct {
	calls []published
}

func (f *fakeHub) Publish(room, origin, targetOrigin string, data json.RawMessage) int {
	f.calls = append(f.calls, published{room, origin, targetOrigin, data})
	return 2
}

func newClient(t *testing.T, hub Publisher, registry *collection.Registry) *connect.Client[structpb.Struct, structpb.Struct] {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(NewPublishHandler(hub, registry, "http://cms.test").Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+PublishProcedure, connect.WithProtoJSON())
}

func TestPublishSendsChangeWithRegistrySchema(t *testing.T) {
	hub := &fakeHub{}
	registry := collection.NewRegistry(collection.Collection{Slug: "pages", Fields: []schema.Field{
		{Name: "author", Type: schema.TypeRelationship, RelationTo: schema.Relation{"users"}},
	}})
	client := newClient(t, hub, registry)

	req, err := structpb.NewStruct(map[string]any{
		"room":           "pages-home",
		"collectionSlug": "pages",
		"data":           map[string]any{"title": "Home", "author": "u1"},
	})
	require.NoError(t, err)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(req))
	require.NoError(t, err)
	assert.Equal(t, float64(2), resp.Msg.GetFields()["delivered"].GetNumberValue())

	require.Len(t, hub.calls, 1)
	call := hub.calls[0]
	assert.Equal(t, "pages-home", call.room)
	assert.Equal(t, "http://cms.test", call.origin)
	assert.Equal(t, transport.AnyOrigin, call.target)

	m, err := message.Decode(transport.Event{Origin: call.origin, Data: call.data}, "http://cms.test", message.TypeChange)
	require.NoError(t, err)
	assert.Equal(t, "pages", m.Collection)
	require.Len(t, m.FieldSchema, 1)
	assert.Equal(t, "author", m.FieldSchema[0].Name)
	doc, err := m.Document()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Home", "author": "u1"}, doc)
}

func TestPublishPrefersRequestSchemaAndTarget(t *testing.T) {
	hub := &fakeHub{}
	client := newClient(t, hub, nil)

	req, err := structpb.NewStruct(map[string]any{
		"room":         "r",
		"targetOrigin": "http://site.test",
		"data":         map[string]any{},
		"fieldSchema":  []any{map[string]any{"name": "hero", "type": "upload", "relationTo": "media"}},
	})
	require.NoError(t, err)
	_, err = client.CallUnary(context.Background(), connect.NewRequest(req))
	require.NoError(t, err)

	require.Len(t, hub.calls, 1)
	assert.Equal(t, "http://site.test", hub.calls[0].target)
	m, err := message.Decode(transport.Event{Origin: "http://cms.test", Data: hub.calls[0].data}, "http://cms.test")
	require.NoError(t, err)
	assert.Equal(t, []schema.Field{{Name: "hero", Type: schema.TypeUpload, RelationTo: schema.Relation{"media"}}}, m.FieldSchema)
}

func TestPublishRejectsBadRequests(t *testing.T) {
	client := newClient(t, &fakeHub{}, nil)
	for _, body := range []map[string]any{
		{"data": map[string]any{}},
		{"room": "r"},
		{"room": "r", "data": "nope"},
		{"room": "r", "data": map[string]any{}, "fieldSchema": []any{"x"}},
	} {
		req, err := structpb.NewStruct(body)
		require.NoError(t, err)
		_, err = client.CallUnary(context.Background(), connect.NewRequest(req))
		require.Error(t, err)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	}
}
