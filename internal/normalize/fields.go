package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"benefits_fetcher/internal/keyqueue"
)

// Lookup follows a dotted path ("beneficio.id") through nested maps.
func Lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the first path resolving to a non-empty scalar. XML nodes
// resolve to their text or CDATA content.
func String(m map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := Lookup(m, p)
		if !ok {
			continue
		}
		if s := Text(v); s != "" {
			return s
		}
	}
	return ""
}

// Text renders a scalar, or the text content of a converted XML node.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool, json.Number:
		return keyqueue.KeyOf(t)
	case map[string]any:
		if s, ok := t[textKey].(string); ok {
			return strings.TrimSpace(s)
		}
		if s, ok := t[cdataKey].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Maps returns v as a list of objects. A single object becomes a one-element
// list, which is how the XML conversion represents a lone child.
func Maps(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Items returns the objects found at path, or nil when the path is absent.
func Items(doc map[string]any, path string) []map[string]any {
	v, ok := Lookup(doc, path)
	if !ok {
		return nil
	}
	return Maps(v)
}

// FlattenFields folds repeated field elements, each shaped like
// {"_attributes": {"id": "x"}, "_text": "v"}, into id -> values in document
// order. Fields without an id are skipped; fields without text keep an empty
// value so positions are preserved.
func FlattenFields(v any) map[string][]string {
	out := make(map[string][]string)
	for _, f := range Maps(v) {
		attrs, _ := f[attributesKey].(map[string]any)
		id := Text(attrs["id"])
		if id == "" {
			continue
		}
		out[id] = append(out[id], Text(f))
	}
	return out
}

// Attributes returns the attribute map of a converted XML node.
func Attributes(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	attrs, _ := m[attributesKey].(map[string]any)
	return attrs
}
