package record

import (
	"slices"
	"time"
	"unicode/utf16"
)

// Kind names the wire type of a Value.
type Kind string

const (
	KindString Kind = "STRING"
	KindInt    Kind = "INT64"
	KindBool   Kind = "BOOLEAN"
	KindTime   Kind = "TIMESTAMP"
)

// Value is a sealed interface over the scalar field types a record may carry.
// Only String, Int, Bool and Time implement it.
type Value interface {
	Kind() Kind
	value() // sealed
}

// String is a string field value.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// Int is an integer field value. Always int64.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Bool is a boolean field value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Time is a timestamp field value, normalised to UTC.
type Time time.Time

func (Time) Kind() Kind { return KindTime }
func (Time) value()     {}

// Time returns the underlying time.Time.
func (t Time) Time() time.Time { return time.Time(t) }

// NewTime creates a Time value in UTC with the monotonic reading stripped,
// so values compare equal after a round trip through storage.
func NewTime(t time.Time) Time {
	return Time(t.UTC().Round(0))
}

// Fields maps field names to values.
// Use SortedKeys() for deterministic iteration.
type Fields map[string]Value

// SortedKeys returns the field names ordered by UTF-16 code units, the same
// ordering the canonical encoder uses.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Clone returns a shallow copy. Values are immutable scalars so a shallow
// copy is a full copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// StringValue returns the named field if it holds a String.
func (f Fields) StringValue(name string) (string, bool) {
	s, ok := f[name].(String)
	return string(s), ok
}

func compareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
