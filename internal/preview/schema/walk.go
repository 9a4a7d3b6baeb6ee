package schema

// RewriteFunc receives one reference value and returns what should be stored
// in its place. Returning value unchanged leaves the document as it was.
type RewriteFunc func(f Field, ref Ref, value any) any

// Rewrite walks doc along fields and calls fn for every reference value it
// finds, replacing the value with the result. doc and the containers below it
// are modified in place, so callers must own them.
func Rewrite(fields []Field, doc map[string]any, fn RewriteFunc) {
	if doc == nil || fn == nil {
		return
	}
	for _, f := range fields {
		switch f.Type {
		case TypeRelationship, TypeUpload:
			v, ok := doc[f.Name]
			if !ok || v == nil {
				continue
			}
			doc[f.Name] = rewriteReference(f, v, fn)
		case TypeGroup:
			if child, ok := doc[f.Name].(map[string]any); ok {
				Rewrite(f.Fields, child, fn)
			}
		case TypeArray:
			for _, row := range rows(doc[f.Name]) {
				Rewrite(f.Fields, row, fn)
			}
		case TypeBlocks:
			for _, row := range rows(doc[f.Name]) {
				blockType, _ := row["blockType"].(string)
				for _, b := range f.Blocks {
					if b.Slug == blockType {
						Rewrite(b.Fields, row, fn)
						break
					}
				}
			}
		case TypeRow, TypeCollapsible:
			Rewrite(f.Fields, doc, fn)
		case TypeTabs:
			for _, tab := range f.Tabs {
				if tab.Name == "" {
					Rewrite(tab.Fields, doc, fn)
					continue
				}
				if child, ok := doc[tab.Name].(map[string]any); ok {
					Rewrite(tab.Fields, child, fn)
				}
			}
		}
	}
}

// Visit calls fn for every reference in doc without modifying it.
func Visit(fields []Field, doc map[string]any, fn func(f Field, ref Ref, value any)) {
	// Rewrite assigns into the containers it walks, so walk copies of them.
	Rewrite(fields, shallowTree(fields, doc), func(f Field, ref Ref, value any) any {
		fn(f, ref, value)
		return value
	})
}

func rewriteReference(f Field, v any, fn RewriteFunc) any {
	if f.HasMany {
		list, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = rewriteOne(f, item, fn)
		}
		return out
	}
	return rewriteOne(f, v, fn)
}

func rewriteOne(f Field, v any, fn RewriteFunc) any {
	if f.Polymorphic() {
		pair, ok := v.(map[string]any)
		if !ok {
			return v
		}
		collection, _ := pair["relationTo"].(string)
		ref, ok := refOf(collection, pair["value"])
		if !ok {
			return v
		}
		out := make(map[string]any, len(pair))
		for k, val := range pair {
			out[k] = val
		}
		out["value"] = fn(f, ref, pair["value"])
		return out
	}
	var collection string
	if len(f.RelationTo) > 0 {
		collection = f.RelationTo[0]
	}
	ref, ok := refOf(collection, v)
	if !ok {
		return v
	}
	return fn(f, ref, v)
}

func rows(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}

// shallowTree copies every container map and row slice reachable through
// fields, leaving leaf values shared.
func shallowTree(fields []Field, doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	copyContainers(fields, out)
	return out
}

func copyContainers(fields []Field, doc map[string]any) {
	for _, f := range fields {
		switch f.Type {
		case TypeGroup:
			if child, ok := doc[f.Name].(map[string]any); ok {
				doc[f.Name] = shallowTree(f.Fields, child)
			}
		case TypeArray, TypeBlocks:
			list, ok := doc[f.Name].([]any)
			if !ok {
				continue
			}
			cp := make([]any, len(list))
			for i, item := range list {
				row, ok := item.(map[string]any)
				if !ok {
					cp[i] = item
					continue
				}
				inner := f.Fields
				if f.Type == TypeBlocks {
					inner = blockFields(f, row)
				}
				cp[i] = shallowTree(inner, row)
			}
			doc[f.Name] = cp
		case TypeRow, TypeCollapsible:
			copyContainers(f.Fields, doc)
		case TypeTabs:
			for _, tab := range f.Tabs {
				if tab.Name == "" {
					copyContainers(tab.Fields, doc)
					continue
				}
				if child, ok := doc[tab.Name].(map[string]any); ok {
					doc[tab.Name] = shallowTree(tab.Fields, child)
				}
			}
		}
	}
}

func blockFields(f Field, row map[string]any) []Field {
	blockType, _ := row["blockType"].(string)
	for _, b := range f.Blocks {
		if b.Slug == blockType {
			return b.Fields
		}
	}
	return nil
}

// Clone returns a copy of doc whose containers along fields may be rewritten
// without affecting the original.
func Clone(fields []Field, doc map[string]any) map[string]any {
	return shallowTree(fields, doc)
}
