// Package collection loads the per-collection field layout the gateway uses
// to populate relationships server-side.
package collection

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"livepreview/internal/preview/schema"
)

type Collection struct {
	Slug string `yaml:"slug"`
	// Upload collections carry files; their documents get a url on read.
	Upload bool           `yaml:"upload"`
	Fields []schema.Field `yaml:"fields"`
}

type file struct {
	Collections []Collection `yaml:"collections"`
}

type Registry struct {
	mu     sync.RWMutex
	bySlug map[string]Collection
}

func NewRegistry(cols ...Collection) *Registry {
	r := &Registry{bySlug: make(map[string]Collection)}
	for _, c := range cols {
		r.Register(c)
	}
	return r
}

// Load reads a YAML file of the form
//
//	collections:
//	  - slug: pages
//	    fields:
//	      - {name: author, type: relationship, relationTo: users}
//
// A missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewRegistry(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("read collections: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse collections: %w", err)
	}
	r := NewRegistry()
	for i, c := range f.Collections {
		if normalizeSlug(c.Slug) == "" {
			return nil, fmt.Errorf("collection %d: slug is required", i)
		}
		r.Register(c)
	}
	return r, nil
}

func (r *Registry) Register(c Collection) {
	c.Slug = normalizeSlug(c.Slug)
	if c.Slug == "" {
		return
	}
	r.mu.Lock()
	r.bySlug[c.Slug] = c
	r.mu.Unlock()
}

func (r *Registry) Get(slug string) (Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bySlug[normalizeSlug(slug)]
	return c, ok
}

// Fields returns the field layout of slug, or nil for unknown collections.
func (r *Registry) Fields(slug string) []schema.Field {
	c, _ := r.Get(slug)
	return c.Fields
}

func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySlug))
	for slug := range r.bySlug {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
