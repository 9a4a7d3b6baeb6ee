// Package preview keeps a front-end preview's copy of a document in step with
// the edits made in a host admin panel.
//
// A Client subscribes to change messages on a shared Transport, merges each
// accepted patch into the last known snapshot and hands the result to a
// callback. Messages are processed one at a time in delivery order.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/resolver"
	"livepreview/internal/preview/transport"
)

var (
	ErrNoSubscription = errors.New("no active live preview subscription")
	ErrClosed         = errors.New("live preview subscription closed")
)

// Callback receives every merged snapshot. The map must be treated as
// read-only; it shares unchanged values with earlier snapshots.
type Callback func(data merge.Document)

type Options struct {
	Transport transport.Transport
	// Resolver expands reference ids. When nil, each subscription resolves
	// against {serverURL}{APIRoute} over HTTP.
	Resolver   merge.Resolver
	APIRoute   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	transport transport.Transport
	resolver  merge.Resolver
	apiRoute  string
	http      *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: opts.Transport,
		resolver:  opts.Resolver,
		apiRoute:  opts.APIRoute,
		http:      opts.HTTPClient,
		logger:    logger,
		handles:   make(map[string]*Handle),
	}, nil
}

// Subscribe registers one listener on the transport and returns its handle.
// Only messages whose origin matches serverURL are considered. depth must
// match the depth the initial data was fetched with; a mismatch is not
// detected here.
func (c *Client) Subscribe(callback Callback, initialData merge.Document, serverURL string, depth int) (*Handle, error) {
	if callback == nil {
		return nil, fmt.Errorf("callback is required")
	}
	origin := transport.NormalizeOrigin(serverURL)
	if origin == "" || origin == transport.AnyOrigin {
		return nil, fmt.Errorf("invalid server url %q", serverURL)
	}
	if depth < 0 {
		depth = 0
	}
	res := c.resolver
	if res == nil {
		httpRes, err := resolver.NewHTTP(resolver.Options{
			ServerURL: serverURL,
			APIRoute:  c.apiRoute,
			Client:    c.http,
		})
		if err != nil {
			return nil, err
		}
		res = httpRes
	}

	snapshot := make(merge.Document, len(initialData))
	for k, v := range initialData {
		snapshot[k] = v
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:        uuid.NewString(),
		client:    c,
		serverURL: serverURL,
		origin:    origin,
		depth:     depth,
		callback:  callback,
		engine:    merge.New(merge.Options{Resolver: res, Logger: c.logger}),
		logger:    c.logger.With("subscription", origin),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		snapshot:  snapshot,
	}
	h.logger = h.logger.With("handle", h.id)

	c.mu.Lock()
	c.handles[h.id] = h
	c.mu.Unlock()

	h.release = c.transport.OnMessage(h.enqueue)
	go h.run()
	return h, nil
}

// Unsubscribe releases the handle's listener. Calling it again, or with a nil
// handle, does nothing.
func (c *Client) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	h.Close()
}

// Ready sends the readiness signal for every active subscription scoped to
// serverURL. Each subscription sends it at most once.
func (c *Client) Ready(ctx context.Context, serverURL string) error {
	origin := transport.NormalizeOrigin(serverURL)
	var targets []*Handle
	c.mu.Lock()
	for _, h := range c.handles {
		if h.origin == origin {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()
	if len(targets) == 0 {
		return ErrNoSubscription
	}
	var errs []error
	for _, h := range targets {
		if err := h.Ready(ctx); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the number of open subscriptions.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

func (c *Client) forget(h *Handle) {
	c.mu.Lock()
	delete(c.handles, h.id)
	c.mu.Unlock()
}
