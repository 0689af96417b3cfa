package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// typedValue is the wire form of a single field:
//
//	{"type": "STRING", "value": "hello"}
//
// TIMESTAMP values are RFC 3339 strings with nanosecond precision.
type typedValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalFields encodes fields as typed JSON with sorted, NFC-normalised
// keys and no HTML escaping. Values are written byte for byte. The output
// is byte-stable for equal inputs.
func MarshalFields(f Fields) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalString(NormalizeName(k))
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := MarshalValue(f[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single value in its typed wire form.
func MarshalValue(v Value) ([]byte, error) {
	var raw []byte
	var err error
	switch val := v.(type) {
	case String:
		raw, err = marshalString(string(val))
	case Int:
		raw = []byte(fmt.Sprintf("%d", int64(val)))
	case Bool:
		if val {
			raw = []byte("true")
		} else {
			raw = []byte("false")
		}
	case Time:
		raw, err = marshalString(val.Time().UTC().Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":"`)
	buf.WriteString(string(v.Kind()))
	buf.WriteString(`","value":`)
	buf.Write(raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalFields decodes typed JSON produced by MarshalFields.
// Unknown types, floats and non-scalar values yield a *DecodeError.
func UnmarshalFields(data []byte) (Fields, error) {
	var raw map[string]typedValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: "malformed field map", Err: err}
	}
	out := make(Fields, len(raw))
	for name, tv := range raw {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, &DecodeError{Field: name, Reason: err.Error()}
		}
		out[name] = v
	}
	return out, nil
}

func decodeValue(tv typedValue) (Value, error) {
	if len(tv.Value) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	switch tv.Type {
	case KindString:
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return nil, fmt.Errorf("expected string: %v", err)
		}
		return String(s), nil

	case KindInt:
		dec := json.NewDecoder(bytes.NewReader(tv.Value))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("expected integer: %v", err)
		}
		if strings.ContainsAny(n.String(), ".eE") {
			return nil, fmt.Errorf("floats are not supported: %s", n)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("integer out of range: %s", n)
		}
		return Int(i), nil

	case KindBool:
		var b bool
		if err := json.Unmarshal(tv.Value, &b); err != nil {
			return nil, fmt.Errorf("expected boolean: %v", err)
		}
		return Bool(b), nil

	case KindTime:
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return nil, fmt.Errorf("expected timestamp string: %v", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", s)
		}
		return NewTime(t), nil

	default:
		return nil, fmt.Errorf("unsupported field type %q", tv.Type)
	}
}

// marshalString produces a JSON string without HTML escaping.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// NormalizeName returns the NFC form of a field name.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}
