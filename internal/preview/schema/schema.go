// Package schema describes the shape of a previewed document: which fields hold
// references to other documents and how nested containers are laid out.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type FieldType string

const (
	TypeText         FieldType = "text"
	TypeRelationship FieldType = "relationship"
	TypeUpload       FieldType = "upload"
	TypeGroup        FieldType = "group"
	TypeArray        FieldType = "array"
	TypeBlocks       FieldType = "blocks"
	TypeRow          FieldType = "row"
	TypeCollapsible  FieldType = "collapsible"
	TypeTabs         FieldType = "tabs"
)

// Field is one entry of a collection's field list. Only the attributes that
// matter for locating references are modelled; everything else is opaque.
type Field struct {
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type       FieldType `json:"type" yaml:"type"`
	RelationTo Relation  `json:"relationTo,omitempty" yaml:"relationTo,omitempty"`
	HasMany    bool      `json:"hasMany,omitempty" yaml:"hasMany,omitempty"`
	Fields     []Field   `json:"fields,omitempty" yaml:"fields,omitempty"`
	Blocks     []Block   `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Tabs       []Tab     `json:"tabs,omitempty" yaml:"tabs,omitempty"`
}

type Block struct {
	Slug   string  `json:"slug" yaml:"slug"`
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Tab holds fields either at the parent level (unnamed) or under Name.
type Tab struct {
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// IsReference reports whether the field stores ids of other documents.
func (f Field) IsReference() bool {
	return f.Type == TypeRelationship || f.Type == TypeUpload
}

// Polymorphic reports whether values are stored as {relationTo, value} pairs.
func (f Field) Polymorphic() bool {
	return f.Type == TypeRelationship && len(f.RelationTo) > 1
}

// Relation is the set of collections a reference field may point to. On the
// wire it is either a single slug or a list of slugs.
type Relation []string

func (r Relation) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(r[0])
	}
	return json.Marshal([]string(r))
}

func (r *Relation) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*r = normalizeRelation([]string{one})
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("relationTo must be a string or a list of strings: %w", err)
	}
	*r = normalizeRelation(many)
	return nil
}

func (r *Relation) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*r = normalizeRelation([]string{n.Value})
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := n.Decode(&many); err != nil {
			return err
		}
		*r = normalizeRelation(many)
		return nil
	default:
		return fmt.Errorf("relationTo must be a string or a list of strings (line %d)", n.Line)
	}
}

func normalizeRelation(in []string) Relation {
	out := make(Relation, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Ref identifies the document a reference value points to.
type Ref struct {
	Collection string
	ID         string
	// Populated is set when the value already holds the expanded document.
	Populated bool
}

// Matches reports whether r and other name the same document. Collection
// slugs compare case-insensitively since the gateway stores them lowercased.
func (r Ref) Matches(other Ref) bool {
	return r.ID == other.ID &&
		strings.EqualFold(strings.TrimSpace(r.Collection), strings.TrimSpace(other.Collection))
}

// IDString renders an id value (string, JSON number, or populated document)
// in its canonical string form.
func IDString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case map[string]any:
		return IDString(t["id"])
	default:
		return "", false
	}
}

func refOf(collection string, value any) (Ref, bool) {
	if collection == "" {
		return Ref{}, false
	}
	id, ok := IDString(value)
	if !ok {
		return Ref{}, false
	}
	_, populated := value.(map[string]any)
	return Ref{Collection: collection, ID: id, Populated: populated}, true
}
