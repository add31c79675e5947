package normalize

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
)

const (
	attributesKey = "_attributes"
	textKey       = "_text"
	cdataKey      = "_cdata"
)

// XMLToMap converts an XML document into a nested mapping keyed by qualified
// element names ("atom:feed"). The declaration and comments are dropped.
func XMLToMap(r io.Reader) (map[string]any, error) {
	return xmlToMap(r, qualify)
}

// xmlToLocalMap is XMLToMap keyed by local names. Elements that share a local
// name under different prefixes merge in document order.
func xmlToLocalMap(r io.Reader) (map[string]any, error) {
	return xmlToMap(r, func(_, local string) string { return local })
}

type keyFunc func(prefix, local string) string

func xmlToMap(r io.Reader, key keyFunc) (map[string]any, error) {
	root, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}

	out := make(map[string]any)
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			appendValue(out, key(n.Prefix, n.Data), elementToMap(n, key))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: xml document has no root element", ErrUnexpectedShape)
	}
	return out, nil
}

func elementToMap(n *xmlquery.Node, key keyFunc) map[string]any {
	m := make(map[string]any)

	if len(n.Attr) > 0 {
		attrs := make(map[string]any, len(n.Attr))
		for _, a := range n.Attr {
			attrs[key(a.Name.Space, a.Name.Local)] = a.Value
		}
		m[attributesKey] = attrs
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			appendValue(m, key(c.Prefix, c.Data), elementToMap(c, key))
		case xmlquery.TextNode:
			if text := strings.TrimSpace(c.Data); text != "" {
				appendText(m, textKey, text)
			}
		case xmlquery.CharDataNode:
			appendText(m, cdataKey, c.Data)
		}
	}
	return m
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// appendValue stores v under key, turning the slot into a list on repeats.
func appendValue(m map[string]any, key string, v any) {
	existing, ok := m[key]
	if !ok {
		m[key] = v
		return
	}
	if list, ok := existing.([]any); ok {
		m[key] = append(list, v)
		return
	}
	m[key] = []any{existing, v}
}

func appendText(m map[string]any, key, text string) {
	if prev, ok := m[key].(string); ok {
		m[key] = prev + text
		return
	}
	m[key] = text
}

// StripPrefixes returns a copy of v where every map key loses its namespace
// prefix: "atom:entry" becomes "entry", "xmlns:wplc" becomes "wplc".
// Keys that collide merge into one flat list, taken in sorted key order.
func StripPrefixes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		groups := make(map[string][]string, len(keys))
		for _, k := range keys {
			local := localName(k)
			groups[local] = append(groups[local], k)
		}

		out := make(map[string]any, len(groups))
		for local, ks := range groups {
			if len(ks) == 1 {
				out[local] = StripPrefixes(t[ks[0]])
				continue
			}
			var merged []any
			for _, k := range ks {
				switch child := StripPrefixes(t[k]).(type) {
				case []any:
					merged = append(merged, child...)
				default:
					merged = append(merged, child)
				}
			}
			out[local] = merged
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = StripPrefixes(child)
		}
		return out
	default:
		return v
	}
}

func localName(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}
