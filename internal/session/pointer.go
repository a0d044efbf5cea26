package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/estuary/capture-core/internal/tuple"
)

// extract evaluates an RFC 6901 JSON pointer against doc, returning the
// located value or nil if the pointer addresses a location that doesn't
// exist (missing locations pack as a tuple null, tolerating optional
// fields).
func extract(doc interface{}, pointer string) interface{} {
	if pointer == "" {
		return doc
	}
	var cur = doc
	for _, tok := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")

		switch v := cur.(type) {
		case map[string]interface{}:
			var next, ok = v[tok]
			if !ok {
				return nil
			}
			cur = next
		case []interface{}:
			var idx, err = strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

// extractTuple evaluates each pointer against doc in order, converting
// each result to a tuple-packable value, producing a binding's key or
// partition tuple.
func extractTuple(doc interface{}, pointers []string) (tuple.Tuple, error) {
	var out = make(tuple.Tuple, len(pointers))
	for i, p := range pointers {
		var v, err = toTupleValue(extract(doc, p))
		if err != nil {
			return nil, fmt.Errorf("extracting %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func toTupleValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a valid key component", v)
	}
}

// createUUIDPlaceholder writes DocumentUUIDPlaceholder into doc at
// pointer, creating intermediate objects as needed. A no-op if pointer is
// empty.
func createUUIDPlaceholder(doc interface{}, pointer string) interface{} {
	if pointer == "" {
		return doc
	}
	var obj, ok = doc.(map[string]interface{})
	if !ok {
		return doc
	}

	var toks = strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	var cur = obj
	for i, tok := range toks {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")

		if i == len(toks)-1 {
			cur[tok] = DocumentUUIDPlaceholder
			break
		}
		var next, ok = cur[tok].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[tok] = next
		}
		cur = next
	}
	return doc
}

// DocumentUUIDPlaceholder is the fixed, process-wide placeholder string
// injected at a binding's document UUID pointer before a captured
// document enters the accumulator.
const DocumentUUIDPlaceholder = "DocUUIDPlaceholder-329Bb50aa48EAa9ef"
