// Package typeset implements a compact set over the seven JSON value types,
// used by schema inference to track which shapes a location has taken on.
package typeset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Set is a bitset over the seven JSON primitive types.
type Set uint8

// Bit assignments, matching the canonical ordering used for iteration and
// serialization.
const (
	Array Set = 1 << iota
	Boolean
	Integer
	Null
	Number
	Object
	String

	// Invalid is the empty set.
	Invalid Set = 0
)

// Any is the set of all seven defined types.
const Any = Array | Boolean | Integer | Null | Number | Object | String

// all lists the defined bits in canonical iteration order.
var all = []Set{Array, Boolean, Integer, Null, Number, Object, String}

var names = map[Set]string{
	Array:   "array",
	Boolean: "boolean",
	Integer: "integer",
	Null:    "null",
	Number:  "number",
	Object:  "object",
	String:  "string",
}

var byName = map[string]Set{
	"array":   Array,
	"boolean": Boolean,
	"integer": Integer,
	"null":    Null,
	"number":  Number,
	"object":  Object,
	"string":  String,
}

// Union returns the set containing members of either set.
func (s Set) Union(other Set) Set { return s | other }

// Intersect returns the set containing members of both sets.
func (s Set) Intersect(other Set) Set { return s & other }

// Complement returns the set of defined types not in s. Unused high bits
// are always masked off so they never leak into a Set value.
func (s Set) Complement() Set { return (^s) & Any }

// Overlaps returns true if s and other share at least one member.
func (s Set) Overlaps(other Set) bool { return s.Intersect(other) != Invalid }

// IsSingleScalarType returns true if s, with null removed, is exactly one
// of {integer, boolean, string, number}.
func (s Set) IsSingleScalarType() bool {
	switch s.Intersect(Null.Complement()) {
	case Integer, Boolean, String, Number:
		return true
	default:
		return false
	}
}

// Iter returns the member type names in canonical order.
func (s Set) Iter() []string {
	var out = make([]string, 0, len(all))
	for _, t := range all {
		if s.Overlaps(t) {
			out = append(out, names[t])
		}
	}
	return out
}

// ForName returns the Set for a canonical type name, or false if unknown.
func ForName(name string) (Set, bool) {
	var s, ok = byName[name]
	return s, ok
}

// Of returns the TypeSet of a decoded JSON value. A numeric value which is
// an exact integer also has the Integer bit set, alongside Number.
func Of(value interface{}) Set {
	switch v := value.(type) {
	case nil:
		return Null
	case bool:
		return Boolean
	case string:
		return String
	case []interface{}:
		return Array
	case map[string]interface{}:
		return Object
	case json.Number:
		if isExactInteger(string(v)) {
			return Number | Integer
		}
		return Number
	case float64:
		if v == float64(int64(v)) {
			return Number | Integer
		}
		return Number
	default:
		panic(fmt.Sprintf("typeset.Of: unsupported value type %T", value))
	}
}

// isExactInteger reports whether a json.Number's literal text is written as
// an integer: no decimal point and no exponent (so "1e5" is not counted).
func isExactInteger(lit string) bool {
	return !strings.ContainsAny(lit, ".eE")
}

func (s Set) String() string {
	return "[" + strings.Join(s.Iter(), ", ") + "]"
}

// MarshalJSON encodes the Set as an ordered array of canonical type names.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Iter())
}

// UnmarshalJSON decodes an ordered array of canonical type names.
func (s *Set) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out Set
	for _, n := range names {
		t, ok := ForName(n)
		if !ok {
			return fmt.Errorf("typeset: unknown type name %q", n)
		}
		out |= t
	}
	*s = out
	return nil
}
