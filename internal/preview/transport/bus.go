package transport

import (
	"context"
	"sync"
)

// Bus is an in-process channel shared by any number of endpoints, each with
// its own origin. A Send from one endpoint is delivered synchronously to the
// listeners of every other endpoint whose origin matches the target.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[*Endpoint]struct{})}
}

// Endpoint attaches a new participant with the given origin.
func (b *Bus) Endpoint(origin string) *Endpoint {
	e := &Endpoint{bus: b, origin: NormalizeOrigin(origin)}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *Bus) peers(except *Endpoint) []*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Endpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		if e != except {
			out = append(out, e)
		}
	}
	return out
}

type Endpoint struct {
	bus       *Bus
	origin    string
	listeners listeners
}

func (e *Endpoint) Origin() string { return e.origin }

func (e *Endpoint) Send(ctx context.Context, targetOrigin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.listeners.isClosed() {
		return ErrClosed
	}
	for _, peer := range e.bus.peers(e) {
		if !OriginMatches(targetOrigin, peer.origin) {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		peer.listeners.dispatch(Event{Origin: e.origin, Data: buf})
	}
	return nil
}

func (e *Endpoint) OnMessage(h Handler) func() {
	return e.listeners.add(h)
}

// Listeners returns the number of registered handlers.
func (e *Endpoint) Listeners() int {
	return e.listeners.count()
}

// Close detaches the endpoint from the bus and drops its listeners.
func (e *Endpoint) Close() {
	e.listeners.close()
	e.bus.mu.Lock()
	delete(e.bus.endpoints, e)
	e.bus.mu.Unlock()
}
