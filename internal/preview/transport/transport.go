// Package transport carries opaque message payloads between a host panel and a
// preview across an origin-scoped channel, the way window.postMessage does in
// a browser.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
)

// AnyOrigin as a target delivers to every listener regardless of its origin.
const AnyOrigin = "*"

var ErrClosed = errors.New("transport closed")

// Event is one delivered message. Origin is set by the channel, never by the
// sender, so receivers may trust it.
type Event struct {
	Origin string
	Data   []byte
}

type Handler func(Event)

// Transport is the shared message channel. OnMessage registers a listener and
// returns the function that releases it; release is safe to call repeatedly.
type Transport interface {
	Send(ctx context.Context, targetOrigin string, data []byte) error
	OnMessage(h Handler) (release func())
}

// Frame is the relay wire shape used between a websocket endpoint and the
// gateway. Clients fill TargetOrigin; the gateway fills Origin.
type Frame struct {
	Origin       string          `json:"origin,omitempty"`
	TargetOrigin string          `json:"targetOrigin,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// NormalizeOrigin reduces a URL to scheme://host[:port] with the default port
// dropped. It returns "" when raw has no scheme or host.
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw == AnyOrigin {
		return AnyOrigin
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	if strings.Contains(u.Hostname(), ":") {
		// IPv6 literal.
		host = "[" + strings.ToLower(u.Hostname()) + "]"
		if port != "" {
			host += ":" + port
		}
	}
	return scheme + "://" + host
}

// OriginMatches reports whether a message from origin may be delivered to a
// listener that asked for target.
func OriginMatches(target, origin string) bool {
	target = NormalizeOrigin(target)
	if target == AnyOrigin {
		return true
	}
	return target != "" && target == NormalizeOrigin(origin)
}

// listeners is the handler registry shared by the transport implementations.
type listeners struct {
	mu       sync.Mutex
	handlers map[uint64]Handler
	nextID   uint64
	closed   bool
}

func (l *listeners) add(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || h == nil {
		return func() {}
	}
	if l.handlers == nil {
		l.handlers = make(map[uint64]Handler)
	}
	id := l.nextID
	l.nextID++
	l.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) dispatch(ev Event) {
	l.mu.Lock()
	hs := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		hs = append(hs, h)
	}
	l.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

func (l *listeners) close() {
	l.mu.Lock()
	l.closed = true
	l.handlers = nil
	l.mu.Unlock()
}

func (l *listeners) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
