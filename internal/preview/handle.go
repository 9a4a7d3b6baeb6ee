package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

// Handle is one active subscription. It owns a single transport listener and
// a worker goroutine that drains an unbounded FIFO of delivered events.
type Handle struct {
	id        string
	client    *Client
	serverURL string
	origin    string
	depth     int
	callback  Callback
	engine    *merge.Engine
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	qmu   sync.Mutex
	queue []transport.Event
	wake  chan struct{}
	done  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	readyOnce sync.Once
	loaded    atomic.Bool

	// snapMu guards snapshot; fields and locale belong to the worker.
	snapMu   sync.RWMutex
	snapshot merge.Document
	fields   []schema.Field
	locale   string
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) ServerURL() string { return h.serverURL }

func (h *Handle) Depth() int { return h.depth }

// Loading is true until the first change message has been merged.
func (h *Handle) Loading() bool { return !h.loaded.Load() }

// Snapshot returns the last merged document, or the initial data.
func (h *Handle) Snapshot() merge.Document {
	h.snapMu.RLock()
	defer h.snapMu.RUnlock()
	return h.snapshot
}

// Done is closed when the handle has been released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Ready tells the host that this preview is listening. Only the first call
// sends anything; later calls return nil without sending.
func (h *Handle) Ready(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	var err error
	h.readyOnce.Do(func() {
		var payload []byte
		payload, err = message.Encode(message.Message{Type: message.TypeReady, ServerURL: h.serverURL})
		if err != nil {
			return
		}
		err = h.client.transport.Send(ctx, h.origin, payload)
	})
	return err
}

// Close releases the listener and stops the worker. A callback that is
// already running completes; no further callbacks are made.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.release != nil {
			h.release()
		}
		h.cancel()
		close(h.done)
		h.client.forget(h)
	})
}

func (h *Handle) enqueue(ev transport.Event) {
	if h.closed.Load() {
		return
	}
	h.qmu.Lock()
	h.queue = append(h.queue, ev)
	h.qmu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) next() (transport.Event, bool) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if len(h.queue) == 0 {
		return transport.Event{}, false
	}
	ev := h.queue[0]
	h.queue[0] = transport.Event{}
	h.queue = h.queue[1:]
	return ev, true
}

func (h *Handle) run() {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}
		for {
			if h.closed.Load() {
				return
			}
			ev, ok := h.next()
			if !ok {
				break
			}
			h.process(ev)
		}
	}
}

func (h *Handle) process(ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("live preview: message handling panicked", "panic", r)
		}
	}()

	msg, err := message.Decode(ev, h.origin, message.TypeChange, message.TypeDocumentEvent)
	if err != nil {
		h.logger.Debug("live preview: message ignored", "origin", ev.Origin, "reason", err)
		return
	}

	switch msg.Type {
	case message.TypeChange:
		h.applyChange(msg)
	case message.TypeDocumentEvent:
		h.applyDocumentEvent(msg)
	}
}

func (h *Handle) applyChange(msg message.Message) {
	doc, err := msg.Document()
	if err != nil {
		h.logger.Debug("live preview: change skipped", "reason", err)
		return
	}
	if len(msg.FieldSchema) > 0 {
		h.fields = msg.FieldSchema
	}
	if msg.Locale != "" {
		h.locale = msg.Locale
	}
	res := h.engine.Merge(h.ctx, h.Snapshot(), doc, h.params())
	h.publish(res.Data)
}

func (h *Handle) applyDocumentEvent(msg message.Message) {
	if !h.loaded.Load() {
		return
	}
	target := schema.Ref{Collection: msg.Updated.Collection, ID: msg.Updated.ID}
	res := h.engine.Refresh(h.ctx, h.Snapshot(), target, h.params())
	if !res.Changed {
		return
	}
	h.publish(res.Data)
}

func (h *Handle) publish(data merge.Document) {
	if h.closed.Load() || errors.Is(h.ctx.Err(), context.Canceled) {
		return
	}
	h.snapMu.Lock()
	h.snapshot = data
	h.snapMu.Unlock()
	h.loaded.Store(true)
	h.callback(data)
}

func (h *Handle) params() merge.Params {
	return merge.Params{Fields: h.fields, Depth: h.depth, Locale: h.locale}
}
