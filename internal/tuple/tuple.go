// Package tuple implements a minimal FoundationDB-style tuple layer: a
// self-delimiting, type-tagged binary encoding of a sequence of scalar
// values that preserves the values' natural ordering under byte-wise
// lexicographic comparison. It's used to pack extracted keys and partition
// tuples so they may be compared without decoding.
package tuple

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tuple is an ordered sequence of packable values. Supported element types
// are nil, bool, string, []byte, int64, and float64.
type Tuple []interface{}

// Type tags. Ordering of the tags themselves is not significant for
// comparison across types (extractors within a binding always produce
// tuples of matching shape), but values within a single tag must compare
// consistently with Go's natural ordering of the underlying type.
const (
	tagNull   byte = 0x00
	tagBytes  byte = 0x01
	tagString byte = 0x02
	tagInt    byte = 0x0c
	tagFloat  byte = 0x15
	tagFalse  byte = 0x26
	tagTrue   byte = 0x27
)

// Pack encodes the Tuple into a comparable byte string.
func (t Tuple) Pack() []byte {
	var out []byte
	for _, v := range t {
		out = appendValue(out, v)
	}
	return out
}

func appendValue(out []byte, v interface{}) []byte {
	switch x := v.(type) {
	case nil:
		return append(out, tagNull)
	case bool:
		if x {
			return append(out, tagTrue)
		}
		return append(out, tagFalse)
	case []byte:
		return appendEscaped(out, tagBytes, x)
	case string:
		return appendEscaped(out, tagString, []byte(x))
	case int:
		return appendInt(out, int64(x))
	case int64:
		return appendInt(out, x)
	case uint64:
		return appendInt(out, int64(x))
	case float64:
		return appendFloat(out, x)
	case float32:
		return appendFloat(out, float64(x))
	default:
		panic(fmt.Sprintf("tuple: unsupported value type %T", v))
	}
}

// appendEscaped writes a tag byte followed by the content with embedded
// 0x00 bytes escaped as 0x00 0xFF, terminated by 0x00. This keeps
// lexicographic ordering intact across strings of differing length.
func appendEscaped(out []byte, tag byte, b []byte) []byte {
	out = append(out, tag)
	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}
	return append(out, 0x00)
}

// appendInt encodes a signed 64-bit integer so that byte-wise comparison
// matches numeric comparison: flip the sign bit so negatives sort before
// positives, then write big-endian.
func appendInt(out []byte, v int64) []byte {
	var u = uint64(v) ^ (1 << 63)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(append(out, tagInt), buf[:]...)
}

// appendFloat encodes an IEEE-754 double so that byte-wise comparison
// matches numeric comparison: for non-negative numbers, flip the sign bit;
// for negative numbers, flip all bits (reversing their relative order).
func appendFloat(out []byte, v float64) []byte {
	var u = math.Float64bits(v)
	if u&(1<<63) != 0 {
		u = ^u
	} else {
		u |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(append(out, tagFloat), buf[:]...)
}

// ToInterface maps a Tuple to a []interface{}, useful for interfaces that
// take splatted arguments (e.g. building a SQL row).
func (t Tuple) ToInterface() []interface{} {
	var m = make([]interface{}, len(t))
	copy(m, t)
	return m
}
