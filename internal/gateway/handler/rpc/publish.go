package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"livepreview/internal/gateway/collection"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

const PublishProcedure = "/livepreview.v1.PreviewService/Publish"

// Publisher queues a frame for every matching connection in a room.
type Publisher interface {
	Publish(room, origin, targetOrigin string, data json.RawMessage) int
}

// PublishHandler lets a host without a websocket push a change into a room.
// The request is a free-form struct:
//
//	{room, data, targetOrigin?, fieldSchema?, collectionSlug?, locale?}
//
// Frames are stamped with origin, the gateway's public URL.
type PublishHandler struct {
	hub         Publisher
	collections *collection.Registry
	origin      string
}

func NewPublishHandler(hub Publisher, collections *collection.Registry, origin string) *PublishHandler {
	if collections == nil {
		collections = collection.NewRegistry()
	}
	return &PublishHandler{hub: hub, collections: collections, origin: origin}
}

// Handler returns the mount path and the connect handler serving it.
func (h *PublishHandler) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return PublishProcedure, connect.NewUnaryHandler(PublishProcedure, h.Publish, opts...)
}

func (h *PublishHandler) Publish(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	room := strings.TrimSpace(fields["room"].GetStringValue())
	if room == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("room is required"))
	}
	data := fields["data"].GetStructValue()
	if data == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("data must be an object"))
	}
	slug := strings.TrimSpace(fields["collectionSlug"].GetStringValue())

	fieldSchema, err := decodeFieldSchema(fields["fieldSchema"])
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("fieldSchema: %w", err))
	}
	if fieldSchema == nil && slug != "" {
		fieldSchema = h.collections.Fields(slug)
	}

	m, err := message.NewChange(data.AsMap(), fieldSchema, slug, fields["locale"].GetStringValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	payload, err := message.Encode(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	target := strings.TrimSpace(fields["targetOrigin"].GetStringValue())
	if target == "" {
		target = transport.AnyOrigin
	}
	delivered := h.hub.Publish(room, h.origin, target, payload)

	out, err := structpb.NewStruct(map[string]any{"delivered": delivered})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func decodeFieldSchema(v *structpb.Value) ([]schema.Field, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, nil
	}
	raw, err := json.Marshal(list.AsSlice())
	if err != nil {
		return nil, err
	}
	var out []schema.Field
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
