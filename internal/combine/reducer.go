package combine

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Reducer is one of the closed set of per-field reduction strategies a
// combine spec may assign to a JSON pointer: a tagged variant with a
// single Apply(left, right) -> merged function, rather than open
// polymorphism.
type Reducer int

const (
	// LastWriteWins discards left, keeping right. The default for any
	// field not named in a CombineSpec.
	LastWriteWins Reducer = iota
	// FirstWriteWins discards right, keeping left (once a value exists it
	// never changes).
	FirstWriteWins
	// Sum adds numeric left and right together.
	Sum
	// Merge deep-merges two JSON objects (recursive key union, right wins
	// on conflicting scalar keys) or concatenates two JSON arrays.
	Merge
	// Set treats left and right as arrays and unions them, deduplicating
	// by JSON-encoded representation.
	Set
	// JsonMergePatch applies right as an RFC 7396 merge patch onto left.
	JsonMergePatch
)

// Apply combines left and right according to r, returning the merged
// value. left may be nil (no prior value), in which case every reducer,
// FirstWriteWins included, simply adopts right as-is.
func Apply(r Reducer, left, right interface{}) (interface{}, error) {
	if left == nil {
		return right, nil
	}
	if right == nil && r != JsonMergePatch {
		return left, nil
	}

	switch r {
	case FirstWriteWins:
		return left, nil
	case LastWriteWins:
		return right, nil
	case Sum:
		var l, lok = asFloat(left)
		var rr, rok = asFloat(right)
		if !lok || !rok {
			return nil, fmt.Errorf("combine: Sum reducer requires numeric operands, got %T and %T", left, right)
		}
		return l + rr, nil
	case Merge:
		return mergeValues(left, right)
	case Set:
		return unionArrays(left, right)
	case JsonMergePatch:
		return applyMergePatch(left, right)
	default:
		return nil, fmt.Errorf("combine: unknown reducer %d", r)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		var f, err = x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func mergeValues(left, right interface{}) (interface{}, error) {
	var lm, lok = left.(map[string]interface{})
	var rm, rok = right.(map[string]interface{})
	if lok && rok {
		var out = make(map[string]interface{}, len(lm)+len(rm))
		for k, v := range lm {
			out[k] = v
		}
		for k, v := range rm {
			if existing, ok := out[k]; ok {
				var merged, err = mergeValues(existing, v)
				if err != nil {
					return nil, err
				}
				out[k] = merged
			} else {
				out[k] = v
			}
		}
		return out, nil
	}

	var la, laok = left.([]interface{})
	var ra, raok = right.([]interface{})
	if laok && raok {
		var out = make([]interface{}, 0, len(la)+len(ra))
		out = append(out, la...)
		out = append(out, ra...)
		return out, nil
	}

	// Type mismatch or scalar: right wins, matching JSON merge-patch's
	// non-object replacement rule.
	return right, nil
}

func unionArrays(left, right interface{}) (interface{}, error) {
	var la, _ = left.([]interface{})
	var ra, raok = right.([]interface{})
	if !raok {
		ra = []interface{}{right}
	}

	var seen = make(map[string]struct{}, len(la)+len(ra))
	var out = make([]interface{}, 0, len(la)+len(ra))
	for _, v := range append(append([]interface{}{}, la...), ra...) {
		var b, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("combine: Set reducer requires JSON-marshalable elements: %w", err)
		}
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func applyMergePatch(left, right interface{}) (interface{}, error) {
	var lb, err = json.Marshal(left)
	if err != nil {
		return nil, err
	}
	var rb []byte
	if right == nil {
		rb = []byte("null")
	} else if rb, err = json.Marshal(right); err != nil {
		return nil, err
	}

	var merged, mergeErr = jsonpatch.MergePatch(lb, rb)
	if mergeErr != nil {
		return nil, fmt.Errorf("combine: merge patch: %w", mergeErr)
	}
	var out interface{}
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Spec is a per-binding combine specification: a map from JSON-pointer
// string (e.g. "/count", root as "") to the reducer applied at that
// location. Fields with no entry default to LastWriteWins.
//
// WholeDocument forces ReduceDocuments to apply the root ("") reducer to
// the entire document rather than folding per top-level field, even when
// both sides are objects. This is how a whole-document reducer (e.g.
// JsonMergePatch over a connector's opaque state) differs from an
// object document whose individual fields each carry their own reducer.
type Spec struct {
	FieldReducers map[string]Reducer
	WholeDocument bool
}

// ReducerFor returns the reducer configured for the given JSON pointer,
// or LastWriteWins if unconfigured.
func (s Spec) ReducerFor(pointer string) Reducer {
	if s.FieldReducers == nil {
		return LastWriteWins
	}
	if r, ok := s.FieldReducers[pointer]; ok {
		return r
	}
	return LastWriteWins
}

// ReduceDocuments folds right into left using s's per-pointer reducers.
// Top-level fields of an object document are reduced individually by
// their configured pointer ("/field"); fields absent from the spec fall
// back to LastWriteWins. Non-object documents are reduced wholesale using
// the root pointer ("")'s reducer.
func ReduceDocuments(s Spec, left, right interface{}) (interface{}, error) {
	if s.WholeDocument {
		return Apply(s.ReducerFor(""), left, right)
	}

	var lm, lok = left.(map[string]interface{})
	var rm, rok = right.(map[string]interface{})

	if !lok || !rok {
		return Apply(s.ReducerFor(""), left, right)
	}

	var out = make(map[string]interface{}, len(lm)+len(rm))
	for k, v := range lm {
		out[k] = v
	}
	for k, rv := range rm {
		var lv = out[k]
		var merged, err = Apply(s.ReducerFor("/"+k), lv, rv)
		if err != nil {
			return nil, fmt.Errorf("combine: reducing field %q: %w", k, err)
		}
		out[k] = merged
	}
	return out, nil
}
