// Package resolver expands reference ids by querying the document API that
// served the preview's initial data.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	memcache "livepreview/internal/cache/memory"
	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/schema"
)

const DefaultAPIRoute = "/api"

type Options struct {
	ServerURL string
	// APIRoute is the path prefix of the document API. Default: /api.
	APIRoute string
	Client   *http.Client
	// Header is added to every request, e.g. an Authorization token.
	Header http.Header

	CacheTTL        time.Duration
	CacheMaxEntries int
}

// HTTP resolves ids with
// GET {serverURL}{apiRoute}/{collection}?depth=N&where[id][in]=a,b&locale=L
// and caches each returned document.
type HTTP struct {
	base   string
	client *http.Client
	header http.Header
	cache  *memcache.LRUTTL[string, merge.Document]
}

func NewHTTP(opts Options) (*HTTP, error) {
	server := strings.TrimRight(strings.TrimSpace(opts.ServerURL), "/")
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.ServerURL)
	}
	route := strings.TrimSpace(opts.APIRoute)
	if route == "" {
		route = DefaultAPIRoute
	}
	route = "/" + strings.Trim(route, "/")
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	entries := opts.CacheMaxEntries
	if entries <= 0 {
		entries = 512
	}
	return &HTTP{
		base:   server + route,
		client: client,
		header: opts.Header.Clone(),
		cache:  memcache.NewLRUTTL[string, merge.Document](entries, ttl),
	}, nil
}

func (r *HTTP) Resolve(ctx context.Context, req merge.Request) (map[string]merge.Document, error) {
	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	out := make(map[string]merge.Document, len(req.IDs))
	missing := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		if doc, ok := r.cache.Get(cacheKey(collection, id, req.Depth, req.Locale)); ok {
			out[id] = doc
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	docs, err := r.fetch(ctx, collection, missing, req.Depth, req.Locale)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		id, ok := schema.IDString(doc["id"])
		if !ok {
			continue
		}
		r.cache.Set(cacheKey(collection, id, req.Depth, req.Locale), doc)
		out[id] = doc
	}
	return out, nil
}

// Forget drops every cached variant of one document.
func (r *HTTP) Forget(collection, id string) {
	prefix := collection + "\x00" + id + "\x00"
	r.cache.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (r *HTTP) fetch(ctx context.Context, collection string, ids []string, depth int, locale string) ([]merge.Document, error) {
	if depth < 0 {
		depth = 0
	}
	q := url.Values{}
	q.Set("depth", strconv.Itoa(depth))
	q.Set("where[id][in]", strings.Join(ids, ","))
	q.Set("limit", strconv.Itoa(len(ids)))
	if locale != "" {
		q.Set("locale", locale)
	}
	endpoint := r.base + "/" + url.PathEscape(collection) + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("resolve %s: status %d: %s", collection, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page struct {
		Docs []merge.Document `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("resolve %s: decode: %w", collection, err)
	}
	return page.Docs, nil
}

func cacheKey(collection, id string, depth int, locale string) string {
	return collection + "\x00" + id + "\x00" + strconv.Itoa(depth) + "\x00" + locale
}
