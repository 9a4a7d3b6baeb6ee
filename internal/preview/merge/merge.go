// Package merge combines the preview's last known snapshot with an incoming
// patch and expands reference ids into documents up to the requested depth.
package merge

import (
	"context"
	"log/slog"
	"sort"

	"livepreview/internal/preview/schema"
)

type Document = map[string]any

// Request asks a resolver for the documents with the given ids. Depth applies
// to the references inside the returned documents.
type Request struct {
	Collection string
	IDs        []string
	Depth      int
	Locale     string
}

// Resolver turns ids into documents. Ids it cannot find are simply missing
// from the result.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (map[string]Document, error)
}

// Invalidator is implemented by resolvers that cache, so a document saved
// elsewhere can be fetched again.
type Invalidator interface {
	Forget(collection, id string)
}

type Options struct {
	Resolver Resolver
	Logger   *slog.Logger
}

type Engine struct {
	resolver Resolver
	logger   *slog.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: opts.Resolver, logger: logger}
}

type Params struct {
	Fields []schema.Field
	Depth  int
	Locale string
}

type Result struct {
	Data Document
	// Requests is the number of resolver calls made.
	Requests int
	// Changed is false when Data is the unchanged input snapshot.
	Changed bool
}

// Merge returns previous overlaid with every top-level field of incoming.
// Neither input is modified; unchanged values are shared with previous, so
// callers must treat snapshots as read-only.
func (e *Engine) Merge(ctx context.Context, previous, incoming Document, p Params) Result {
	result := make(Document, len(previous)+len(incoming))
	for k, v := range previous {
		result[k] = v
	}
	if len(incoming) == 0 {
		return Result{Data: result, Changed: true}
	}

	patch := incoming
	requests := 0
	if e.expands(p) {
		patch = schema.Clone(p.Fields, incoming)
		known := populatedIndex(p.Fields, previous)
		pending := make(map[string]map[string]struct{})
		schema.Visit(p.Fields, patch, func(_ schema.Field, ref schema.Ref, _ any) {
			if ref.Populated {
				return
			}
			if _, ok := known[keyOf(ref)]; ok {
				return
			}
			addPending(pending, ref)
		})
		fetched, n := e.resolveAll(ctx, pending, p)
		requests = n
		schema.Rewrite(p.Fields, patch, func(_ schema.Field, ref schema.Ref, value any) any {
			if ref.Populated {
				return value
			}
			if doc, ok := fetched[keyOf(ref)]; ok {
				return doc
			}
			if doc, ok := known[keyOf(ref)]; ok {
				return doc
			}
			return value
		})
	}

	for k, v := range patch {
		result[k] = v
	}
	return Result{Data: result, Requests: requests, Changed: true}
}

// Refresh fetches target again wherever current references it, after a save
// outside the edit being previewed.
func (e *Engine) Refresh(ctx context.Context, current Document, target schema.Ref, p Params) Result {
	if !e.expands(p) {
		return Result{Data: current}
	}
	if inv, ok := e.resolver.(Invalidator); ok {
		inv.Forget(target.Collection, target.ID)
	}
	found := false
	schema.Visit(p.Fields, current, func(_ schema.Field, ref schema.Ref, _ any) {
		if ref.Matches(target) {
			found = true
		}
	})
	if !found {
		return Result{Data: current}
	}
	pending := map[string]map[string]struct{}{}
	addPending(pending, target)
	fetched, n := e.resolveAll(ctx, pending, p)
	doc, ok := fetched[keyOf(target)]
	if !ok {
		return Result{Data: current, Requests: n}
	}
	out := schema.Clone(p.Fields, current)
	schema.Rewrite(p.Fields, out, func(_ schema.Field, ref schema.Ref, value any) any {
		if ref.Matches(target) {
			return doc
		}
		return value
	})
	return Result{Data: out, Requests: n, Changed: true}
}

func (e *Engine) expands(p Params) bool {
	return e != nil && e.resolver != nil && p.Depth > 0 && len(p.Fields) > 0
}

func (e *Engine) resolveAll(ctx context.Context, pending map[string]map[string]struct{}, p Params) (map[string]Document, int) {
	out := make(map[string]Document)
	collections := make([]string, 0, len(pending))
	for c := range pending {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	requests := 0
	for _, collection := range collections {
		ids := make([]string, 0, len(pending[collection]))
		for id := range pending[collection] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		requests++
		docs, err := e.resolver.Resolve(ctx, Request{
			Collection: collection,
			IDs:        ids,
			Depth:      p.Depth - 1,
			Locale:     p.Locale,
		})
		if err != nil {
			e.logger.Warn("live preview: relationship resolution failed",
				"collection", collection, "ids", ids, "error", err)
			continue
		}
		for id, doc := range docs {
			if doc == nil {
				continue
			}
			out[keyOf(schema.Ref{Collection: collection, ID: id})] = doc
		}
	}
	return out, requests
}

func populatedIndex(fields []schema.Field, doc Document) map[string]Document {
	index := make(map[string]Document)
	schema.Visit(fields, doc, func(_ schema.Field, ref schema.Ref, value any) {
		if !ref.Populated {
			return
		}
		if m, ok := value.(map[string]any); ok {
			index[keyOf(ref)] = m
		}
	})
	return index
}

func addPending(pending map[string]map[string]struct{}, ref schema.Ref) {
	ids, ok := pending[ref.Collection]
	if !ok {
		ids = make(map[string]struct{})
		pending[ref.Collection] = ids
	}
	ids[ref.ID] = struct{}{}
}

func keyOf(ref schema.Ref) string {
	return ref.Collection + "\x00" + ref.ID
}
