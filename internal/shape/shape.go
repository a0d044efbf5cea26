// Package shape implements per-binding JSON shape inference: a document
// shape that widens monotonically as documents are observed, bounded by a
// deterministic complexity limit.
package shape

import (
	"encoding/json"
	"sort"

	"github.com/estuary/capture-core/internal/typeset"
)

// DefaultSchemaComplexityLimit bounds how many distinct object properties
// and enum members a single Shape may accumulate before further widening
// is clamped. It's a single deterministic constant, not configurable per
// binding.
const DefaultSchemaComplexityLimit = 500

// Shape is an inferred, monotonically-widening summary of the JSON
// documents observed at one location.
type Shape struct {
	Types      typeset.Set
	Properties map[string]*Shape // Valid when Types overlaps Object.
	Items      *Shape            // Valid when Types overlaps Array; summarizes all elements.
	Enum       []interface{}     // Bounded set of distinct scalar values observed, or nil if clamped.

	clamped bool // True once this node itself hit the complexity limit.
}

// New returns an empty Shape observing no documents yet.
func New() *Shape {
	return &Shape{}
}

// Widen folds doc into the Shape, returning true if the Shape changed.
// Widening is monotonic: the set of documents matched by the shape only
// ever grows, until enforceComplexityLimit clamps further growth.
func (s *Shape) Widen(doc interface{}) bool {
	var changed = s.widen(doc, 0)
	if changed {
		s.enforceComplexityLimit(DefaultSchemaComplexityLimit)
	}
	return changed
}

func (s *Shape) widen(doc interface{}, depth int) bool {
	var t = typeset.Of(normalizeNumber(doc))
	var changed = false

	if !s.Types.Overlaps(t) {
		s.Types |= t
		changed = true
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		if s.Properties == nil {
			s.Properties = make(map[string]*Shape)
		}
		var keys = make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			var child, ok = s.Properties[k]
			if !ok {
				if s.clamped {
					continue // Complexity limit forbids new properties.
				}
				child = New()
				s.Properties[k] = child
				changed = true
			}
			if child.widen(v[k], depth+1) {
				changed = true
			}
		}
	case []interface{}:
		if s.Items == nil {
			s.Items = New()
			changed = true
		}
		for _, elem := range v {
			if s.Items.widen(elem, depth+1) {
				changed = true
			}
		}
	default:
		if isScalar(v) && !s.clamped {
			if addEnum(&s.Enum, v) {
				changed = true
			}
		}
	}

	return changed
}

// enforceComplexityLimit bounds object-property count, enum cardinality,
// and recurses into children, clamping any node that exceeds the limit so
// it accepts no further distinct members. The limit is applied uniformly
// at every level of nesting.
func (s *Shape) enforceComplexityLimit(limit int) {
	if len(s.Enum) > limit {
		s.Enum = nil // Too many distinct values to usefully enumerate; give up tracking them.
		s.clamped = true
	}
	if len(s.Properties) > limit {
		s.clamped = true
		// Keep a deterministic, bounded subset: the first `limit` properties
		// in sorted key order. Already-known properties keep widening;
		// no new ones are admitted (see widen's `if s.clamped` check).
		var keys = make([]string, 0, len(s.Properties))
		for k := range s.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var kept = make(map[string]*Shape, limit)
		for _, k := range keys[:limit] {
			kept[k] = s.Properties[k]
		}
		s.Properties = kept
	}
	for _, child := range s.Properties {
		child.enforceComplexityLimit(limit)
	}
	if s.Items != nil {
		s.Items.enforceComplexityLimit(limit)
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	default:
		return true
	}
}

func addEnum(enum *[]interface{}, v interface{}) bool {
	for _, existing := range *enum {
		if existing == v {
			return false
		}
	}
	*enum = append(*enum, v)
	return true
}

// normalizeNumber passes non-numeric values through unchanged; json.Number
// and float64 are both handled directly by typeset.Of.
func normalizeNumber(v interface{}) interface{} { return v }

// ToSchema serializes the Shape as a JSON Schema document, for structured
// logging at commit time.
func (s *Shape) ToSchema() json.RawMessage {
	var schema = s.toSchemaValue()
	var b, err = json.Marshal(schema)
	if err != nil {
		panic(err) // Shape values are always JSON-marshalable.
	}
	return b
}

func (s *Shape) toSchemaValue() map[string]interface{} {
	var out = map[string]interface{}{}
	if len(s.Types.Iter()) > 0 {
		out["type"] = s.Types.Iter()
	}
	if s.Properties != nil {
		var props = make(map[string]interface{}, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = v.toSchemaValue()
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = s.Items.toSchemaValue()
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	return out
}
