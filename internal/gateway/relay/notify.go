package relay

import (
	"context"
	"log"

	"livepreview/internal/preview/message"
	"livepreview/internal/preview/transport"
)

// DocumentNotifier turns document saves into document-event frames sent to
// every room on behalf of origin.
type DocumentNotifier struct {
	hub    *Hub
	origin string
}

func NewDocumentNotifier(hub *Hub, origin string) *DocumentNotifier {
	return &DocumentNotifier{hub: hub, origin: origin}
}

func (n *DocumentNotifier) DocumentSaved(_ context.Context, collection, id string) {
	payload, err := message.Encode(message.Message{
		Type:    message.TypeDocumentEvent,
		Updated: &message.DocumentRef{Collection: collection, ID: id},
	})
	if err != nil {
		log.Printf("encode document event %s/%s: %v", collection, id, err)
		return
	}
	n.hub.BroadcastAll(n.origin, transport.AnyOrigin, payload)
}
