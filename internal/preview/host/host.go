// Package host is the admin-panel side of live preview: it owns the
// in-progress edit state and pushes it to the preview.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

const replyTimeout = 10 * time.Second

type Options struct {
	// PreviewOrigin is where change messages are sent and the only origin
	// whose ready messages are honoured. "*" trusts any origin.
	PreviewOrigin string
	Collection    string
	Locale        string
	Fields        []schema.Field
	Logger        *slog.Logger
}

type Host struct {
	transport transport.Transport
	opts      Options
	logger    *slog.Logger
	release   func()

	mu         sync.Mutex
	data       merge.Document
	schemaSent bool
	readyOnce  sync.Once
	ready      chan struct{}
	closed     bool
}

func New(t transport.Transport, opts Options) (*Host, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if transport.NormalizeOrigin(opts.PreviewOrigin) == "" {
		return nil, fmt.Errorf("invalid preview origin %q", opts.PreviewOrigin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		transport: t,
		opts:      opts,
		logger:    logger.With("collection", opts.Collection),
		ready:     make(chan struct{}),
	}
	h.release = t.OnMessage(h.onMessage)
	return h, nil
}

// Ready is closed once the preview has reported that it is listening.
func (h *Host) Ready() <-chan struct{} { return h.ready }

// Data returns the current edit state.
func (h *Host) Data() merge.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Update records doc as the edit state and sends it to the preview.
func (h *Host) Update(ctx context.Context, doc merge.Document) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return transport.ErrClosed
	}
	h.data = doc
	withSchema := !h.schemaSent
	h.schemaSent = true
	h.mu.Unlock()
	return h.sendChange(ctx, doc, withSchema)
}

// DocumentUpdated tells the preview that a referenced document was saved.
func (h *Host) DocumentUpdated(ctx context.Context, collection, id string) error {
	payload, err := message.Encode(message.Message{
		Type:    message.TypeDocumentEvent,
		Updated: &message.DocumentRef{Collection: collection, ID: id},
	})
	if err != nil {
		return err
	}
	return h.transport.Send(ctx, h.opts.PreviewOrigin, payload)
}

func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.release()
}

func (h *Host) onMessage(ev transport.Event) {
	if _, err := message.Decode(ev, h.opts.PreviewOrigin, message.TypeReady); err != nil {
		return
	}
	h.readyOnce.Do(func() { close(h.ready) })

	// A ready comes from a freshly mounted preview: send the full state and
	// the schema it has not seen yet.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	doc := h.data
	if doc == nil {
		h.mu.Unlock()
		return
	}
	h.schemaSent = true
	h.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := h.sendChange(ctx, doc, true); err != nil {
		h.logger.Warn("live preview: reply to ready failed", "origin", ev.Origin, "error", err)
	}
}

func (h *Host) sendChange(ctx context.Context, doc merge.Document, withSchema bool) error {
	var fields []schema.Field
	if withSchema {
		fields = h.opts.Fields
	}
	m, err := message.NewChange(doc, fields, h.opts.Collection, h.opts.Locale)
	if err != nil {
		return err
	}
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	return h.transport.Send(ctx, h.opts.PreviewOrigin, payload)
}
