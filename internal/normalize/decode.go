// Package normalize turns partner payloads into canonical benefit records.
//
// JSON bodies decode straight into nested maps. The XML feed is first converted
// into the same kind of mapping (attributes under "_attributes", text under
// "_text", CDATA under "_cdata", repeated children as lists) and stripped of
// namespace prefixes, so adapters extract fields from both formats the same way.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Format int

const (
	FormatJSON Format = iota
	FormatXML
)

func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "json"
}

var (
	ErrUnexpectedShape = errors.New("unexpected payload shape")
	ErrMalformedItem   = errors.New("malformed item")
)

// Decode parses a response body into a document map.
func Decode(format Format, body []byte) (map[string]any, error) {
	if format == FormatXML {
		return xmlToLocalMap(bytes.NewReader(body))
	}

	// Numbers stay json.Number so long identifiers keep every digit.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json: trailing data after top-level value")
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level %T", ErrUnexpectedShape, v)
	}
	return doc, nil
}
