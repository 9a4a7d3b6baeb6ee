package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

type WSOptions struct {
	// URL of the gateway relay, e.g. ws://localhost:8081/ws?room=pages-home.
	URL string
	// Origin is sent as the Origin header; the gateway stamps it on every
	// frame this connection sends.
	Origin string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// WSTransport is a Transport backed by a websocket connection to the preview
// gateway relay.
type WSTransport struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	writeMu   sync.Mutex
	listeners listeners
	done      chan struct{}
	closeOnce sync.Once
}

func DialWS(ctx context.Context, opts WSOptions) (*WSTransport, error) {
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	origin := NormalizeOrigin(opts.Origin)
	if origin == "" || origin == AnyOrigin {
		return nil, fmt.Errorf("invalid origin %q", opts.Origin)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Origin", origin)
	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	t := &WSTransport{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer t.Close()
	for {
		var f Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-t.done:
				default:
					t.logger.Debug("relay read stopped", "error", err)
				}
			}
			return
		}
		if len(f.Data) == 0 {
			continue
		}
		t.listeners.dispatch(Event{Origin: f.Origin, Data: []byte(f.Data)})
	}
}

func (t *WSTransport) Send(ctx context.Context, targetOrigin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if !json.Valid(data) {
		return fmt.Errorf("relay payload is not valid json")
	}
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(Frame{TargetOrigin: targetOrigin, Data: json.RawMessage(data)})
}

func (t *WSTransport) OnMessage(h Handler) func() {
	return t.listeners.add(h)
}

// Done is closed once the connection has stopped.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.listeners.close()
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
