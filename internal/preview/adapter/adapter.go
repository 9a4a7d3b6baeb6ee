// Package adapter binds a live preview subscription to UI state: the current
// document and whether the first update has arrived. UI layers observe it
// and re-render however they natively do.
package adapter

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"livepreview/internal/preview"
	"livepreview/internal/preview/merge"
)

type State struct {
	Data      merge.Document
	IsLoading bool
}

type binding struct {
	initial   uintptr
	serverURL string
	depth     int
}

type Adapter struct {
	client *preview.Client

	mu        sync.Mutex
	state     State
	handle    *preview.Handle
	gen       uint64 // bumped by every rebind; stale subscriptions compare against it
	bound     *binding
	closed    bool
	observers map[uint64]func(State)
	nextObs   uint64
}

func New(client *preview.Client) *Adapter {
	return &Adapter{
		client:    client,
		state:     State{IsLoading: true},
		observers: make(map[uint64]func(State)),
	}
}

// Configure binds the adapter to a document. When initialData (by identity),
// serverURL or depth differ from the current binding, the old subscription is
// released before a new one is registered and ready is sent.
//
// No lock is held while observers run, so an observer may call Close or
// Configure. A Configure superseded that way returns without installing its
// subscription.
func (a *Adapter) Configure(ctx context.Context, initialData merge.Document, serverURL string, depth int) error {
	next := binding{initial: identity(initialData), serverURL: serverURL, depth: depth}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return preview.ErrClosed
	}
	if a.bound != nil && *a.bound == next {
		a.mu.Unlock()
		return nil
	}
	old := a.handle
	a.handle = nil
	a.gen++
	gen := a.gen
	a.bound = &next
	a.state = State{Data: initialData, IsLoading: true}
	a.mu.Unlock()

	if old != nil {
		old.Close()
	}
	a.notify()

	h, err := a.client.Subscribe(func(d merge.Document) { a.onData(gen, d) }, initialData, serverURL, depth)
	if err != nil {
		a.mu.Lock()
		if a.gen == gen {
			a.bound = nil
		}
		a.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}
	a.mu.Lock()
	if a.closed || a.gen != gen {
		closed := a.closed
		a.mu.Unlock()
		h.Close()
		if closed {
			return preview.ErrClosed
		}
		return nil
	}
	a.handle = h
	a.mu.Unlock()
	return h.Ready(ctx)
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Observe registers fn for every state transition and returns its cancel.
func (a *Adapter) Observe(fn func(State)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextObs
	a.nextObs++
	a.observers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.observers, id)
			a.mu.Unlock()
		})
	}
}

// Close unsubscribes once; no transitions happen afterwards.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	h := a.handle
	a.handle = nil
	a.observers = make(map[uint64]func(State))
	a.mu.Unlock()
	if h != nil {
		a.client.Unsubscribe(h)
	}
}

func (a *Adapter) onData(gen uint64, d merge.Document) {
	a.mu.Lock()
	if a.closed || gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.state = State{Data: d, IsLoading: false}
	a.mu.Unlock()
	a.notify()
}

func (a *Adapter) notify() {
	a.mu.Lock()
	st := a.state
	fns := make([]func(State), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func identity(m merge.Document) uintptr {
	if m == nil {
		return 0
	}
	return reflect.ValueOf(m).Pointer()
}
