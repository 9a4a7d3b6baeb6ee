package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepreview/internal/preview"
	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/message"
	"livepreview/internal/preview/transport"
)

const (
	cmsOrigin  = "http://cms.test"
	siteOrigin = "http://site.test"
)

type fixture struct {
	t       *testing.T
	host    *transport.Endpoint
	preview *transport.Endpoint
	adapter *Adapter
	states  chan State
	readies chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := transport.NewBus()
	f := &fixture{
		t:       t,
		host:    bus.Endpoint(cmsOrigin),
		preview: bus.Endpoint(siteOrigin),
		states:  make(chan State, 32),
		readies: make(chan struct{}, 8),
	}
	client, err := preview.NewClient(preview.Options{Transport: f.preview, Resolver: noResolver{}})
	require.NoError(t, err)
	f.adapter = New(client)
	f.adapter.Observe(func(s State) { f.states <- s })
	f.host.OnMessage(func(ev transport.Event) {
		if _, err := message.Decode(ev, siteOrigin, message.TypeReady); err == nil {
			f.readies <- struct{}{}
		}
	})
	t.Cleanup(f.adapter.Close)
	return f
}

type noResolver struct{}

func (noResolver) Resolve(context.Context, merge.Request) (map[string]merge.Document, error) {
	return nil, nil
}

func (f *fixture) change(doc merge.Document) {
	f.t.Helper()
	m, err := message.NewChange(doc, nil, "pages", "")
	require.NoError(f.t, err)
	buf, err := message.Encode(m)
	require.NoError(f.t, err)
	require.NoError(f.t, f.host.Send(context.Background(), siteOrigin, buf))
}

func (f *fixture) nextState() State {
	f.t.Helper()
	select {
	case s := <-f.states:
		return s
	case <-time.After(2 * time.Second):
		f.t.Fatalf("timed out waiting for state")
		return State{}
	}
}

func TestAdapterTransitions(t *testing.T) {
	f := newFixture(t)
	initial := merge.Document{"title": "Home"}

	assert.True(t, f.adapter.State().IsLoading)
	require.NoError(t, f.adapter.Configure(context.Background(), initial, cmsOrigin, 0))
	assert.Equal(t, State{Data: initial, IsLoading: true}, f.nextState())
	assert.Len(t, f.readies, 1)

	f.change(merge.Document{"title": "Home Page"})
	assert.Equal(t, State{Data: merge.Document{"title": "Home Page"}, IsLoading: false}, f.nextState())

	f.change(merge.Document{"slug": "home"})
	s := f.nextState()
	assert.False(t, s.IsLoading)
	assert.Equal(t, merge.Document{"title": "Home Page", "slug": "home"}, s.Data)
}

func TestAdapterResubscribesOnlyWhenBindingChanges(t *testing.T) {
	f := newFixture(t)
	initial := merge.Document{"title": "Home"}
	require.NoError(t, f.adapter.Configure(context.Background(), initial, cmsOrigin, 0))
	f.nextState()

	require.NoError(t, f.adapter.Configure(context.Background(), initial, cmsOrigin, 0))
	assert.Equal(t, 1, f.preview.Listeners())
	assert.Len(t, f.readies, 1)

	require.NoError(t, f.adapter.Configure(context.Background(), initial, cmsOrigin, 1))
	assert.Equal(t, State{Data: initial, IsLoading: true}, f.nextState())
	assert.Equal(t, 1, f.preview.Listeners(), "old listener released")
	assert.Len(t, f.readies, 2)

	other := merge.Document{"title": "Home"}
	require.NoError(t, f.adapter.Configure(context.Background(), other, cmsOrigin, 1))
	f.nextState()
	assert.Equal(t, 1, f.preview.Listeners())

	f.change(merge.Document{"title": "x"})
	assert.Equal(t, "x", f.nextState().Data["title"])
	select {
	case s := <-f.states:
		t.Fatalf("duplicate delivery: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdapterCloseStopsTransitions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Configure(context.Background(), merge.Document{}, cmsOrigin, 0))
	f.nextState()

	f.adapter.Close()
	f.adapter.Close()
	assert.Equal(t, 0, f.preview.Listeners())

	f.change(merge.Document{"title": "late"})
	select {
	case s := <-f.states:
		t.Fatalf("transition after close: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, f.adapter.Configure(context.Background(), merge.Document{}, cmsOrigin, 0), preview.ErrClosed)
}

func configureAsync(a *Adapter, initial merge.Document, depth int) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Configure(context.Background(), initial, cmsOrigin, depth) }()
	return done
}

func TestObserverMayCloseDuringConfigure(t *testing.T) {
	f := newFixture(t)
	f.adapter.Observe(func(s State) {
		if s.IsLoading {
			f.adapter.Close()
		}
	})

	select {
	case err := <-configureAsync(f.adapter, merge.Document{}, 0):
		assert.ErrorIs(t, err, preview.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("Configure blocked after an observer closed the adapter")
	}
	assert.Equal(t, 0, f.preview.Listeners())
	assert.Len(t, f.readies, 0)
}

func TestObserverMayRebindDuringConfigure(t *testing.T) {
	f := newFixture(t)
	var once sync.Once
	inner := make(chan error, 1)
	f.adapter.Observe(func(s State) {
		once.Do(func() {
			inner <- f.adapter.Configure(context.Background(), merge.Document{}, cmsOrigin, 1)
		})
	})

	select {
	case err := <-configureAsync(f.adapter, merge.Document{}, 0):
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Configure blocked after an observer rebound the adapter")
	}
	require.NoError(t, <-inner)
	assert.Equal(t, 1, f.preview.Listeners(), "superseded subscription released")
	assert.Len(t, f.readies, 1)

	f.change(merge.Document{"title": "x"})
	var last State
	for last.IsLoading || last.Data == nil {
		last = f.nextState()
	}
	assert.Equal(t, "x", last.Data["title"])
}
