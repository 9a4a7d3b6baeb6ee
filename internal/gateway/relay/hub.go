// Package relay forwards live preview frames between websocket connections
// that share a room, stamping each frame with the sender's verified origin.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livepreview/internal/preview/transport"
)

const (
	relayWSWriteWait = 10 * time.Second
	relayWSPongWait  = 60 * time.Second
	relayWSPingEvery = (relayWSPongWait * 9) / 10
	relayWSQueue     = 32
	relayWSMaxFrame  = 4 << 20
)

type Hub struct {
	allowAll bool
	allowed  map[string]struct{}
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	rooms  map[string]map[*conn]struct{}
	closed bool
}

type conn struct {
	id     string
	room   string
	origin string
	ws     *websocket.Conn
	send   chan transport.Frame
	cancel context.CancelFunc
}

// NewHub returns a hub accepting connections whose Origin header is in
// allowedOrigins. "*" in the list accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		allowed: make(map[string]struct{}),
		rooms:   make(map[string]map[*conn]struct{}),
	}
	for _, o := range allowedOrigins {
		n := transport.NormalizeOrigin(o)
		if n == transport.AnyOrigin {
			h.allowAll = true
			continue
		}
		if n != "" {
			h.allowed[n] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Hub) originAllowed(raw string) bool {
	origin := transport.NormalizeOrigin(raw)
	if origin == "" || origin == transport.AnyOrigin {
		return false
	}
	if h.allowAll {
		return true
	}
	_, ok := h.allowed[origin]
	return ok
}

// ServeHTTP upgrades GET /ws?room=<id>.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.SetReadLimit(relayWSMaxFrame)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		id:     uuid.NewString(),
		room:   room,
		origin: transport.NormalizeOrigin(r.Header.Get("Origin")),
		ws:     ws,
		send:   make(chan transport.Frame, relayWSQueue),
		cancel: cancel,
	}
	if !h.join(c) {
		return
	}
	defer h.leave(c)

	if err := ws.SetReadDeadline(time.Now().Add(relayWSPongWait)); err != nil {
		log.Printf("relay ws set read deadline failed: %v", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(relayWSPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	for {
		var in transport.Frame
		if err := ws.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Printf("relay ws read room=%s conn=%s: %v", room, c.id, err)
			}
			cancel()
			<-writerDone
			return
		}
		if len(in.Data) == 0 || !json.Valid(in.Data) {
			continue
		}
		h.route(c, transport.Frame{
			Origin:       c.origin,
			TargetOrigin: in.TargetOrigin,
			Data:         in.Data,
		})
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(relayWSPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(relayWSWriteWait))
			return
		case out := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(relayWSWriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(relayWSWriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) join(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	members, ok := h.rooms[c.room]
	if !ok {
		members = make(map[*conn]struct{})
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
	return true
}

func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[c.room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
}

// route delivers f to every other connection in the sender's room whose
// origin matches the frame's target.
func (h *Hub) route(from *conn, f transport.Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.rooms[from.room] {
		if c == from || !transport.OriginMatches(f.TargetOrigin, c.origin) {
			continue
		}
		push(c.send, f)
		delivered++
	}
	return delivered
}

// Publish injects a frame from origin into room. It returns the number of
// connections it was queued for.
func (h *Hub) Publish(room, origin, targetOrigin string, data json.RawMessage) int {
	room = strings.TrimSpace(room)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deliverLocked(h.rooms[room], origin, targetOrigin, data)
}

// BroadcastAll injects a frame from origin into every room.
func (h *Hub) BroadcastAll(origin, targetOrigin string, data json.RawMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, members := range h.rooms {
		delivered += h.deliverLocked(members, origin, targetOrigin, data)
	}
	return delivered
}

func (h *Hub) deliverLocked(members map[*conn]struct{}, origin, targetOrigin string, data json.RawMessage) int {
	f := transport.Frame{
		Origin:       transport.NormalizeOrigin(origin),
		TargetOrigin: targetOrigin,
		Data:         data,
	}
	delivered := 0
	for c := range members {
		if !transport.OriginMatches(targetOrigin, c.origin) {
			continue
		}
		push(c.send, f)
		delivered++
	}
	return delivered
}

// Rooms lists rooms with at least one connection.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Connections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[strings.TrimSpace(room)])
}

// Close disconnects every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*conn
	for _, members := range h.rooms {
		for c := range members {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		_ = c.ws.SetReadDeadline(time.Now())
	}
}

// push queues f, dropping the oldest queued frame when the connection is
// not keeping up.
func push(ch chan transport.Frame, f transport.Frame) {
	select {
	case ch <- f:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}
