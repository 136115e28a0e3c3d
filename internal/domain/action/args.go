package action

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the variants of an argument Value.
type Kind int

const (
	// KindNull is the JSON null value.
	KindNull Kind = iota
	// KindString is a string scalar.
	KindString
	// KindNumber is a numeric scalar, kept in its original textual form.
	KindNumber
	// KindBool is a boolean scalar.
	KindBool
	// KindList is an ordered sequence of values.
	KindList
	// KindMap is an insertion-ordered set of key/value fields.
	KindMap
)

// Value is a recursive tagged variant over a tool-call argument tree.
// It preserves the original structure (including map field order) so the
// tree can be stored and re-serialized byte-faithfully, while flattening
// and keyword scanning work from a single derived string.
type Value struct {
	Kind Kind
	Str  string      // KindString
	Num  json.Number // KindNumber
	Bool bool        // KindBool
	List []Value     // KindList
	Map  []Field     // KindMap, in insertion order
}

// Field is one key/value pair of a KindMap value.
type Field struct {
	Key   string
	Value Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// String wraps s as a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps the textual form of a number.
func Number(n string) Value { return Value{Kind: KindNumber, Num: json.Number(n)} }

// Bool wraps b as a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListOf builds a list value from vs.
func ListOf(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// MapOf builds a map value from fields, preserving their order.
func MapOf(fields ...Field) Value { return Value{Kind: KindMap, Map: fields} }

// F builds a single map field.
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

// IsZero reports whether v is the zero Value (an absent argument tree).
// The zero value and explicit null are distinct: null round-trips as null.
func (v Value) IsZero() bool {
	return v.Kind == KindNull && v.Str == "" && v.Num == "" && !v.Bool && v.List == nil && v.Map == nil
}

// Get returns the value of the named field of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, f := range v.Map {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Scalar returns the string form of a scalar value and whether v is one.
// Numbers keep their original text; booleans are "true"/"false".
func (v Value) Scalar() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return v.Num.String(), true
	case KindBool:
		if v.Bool {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// Len returns the element count for list values and the field count for
// map values; 0 otherwise.
func (v Value) Len() int {
	switch v.Kind {
	case KindList:
		return len(v.List)
	case KindMap:
		return len(v.Map)
	default:
		return 0
	}
}

// UnmarshalJSON decodes an arbitrary JSON document into the variant,
// preserving map field order and the textual form of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	// Reject trailing content after the first document.
	if _, err := dec.Token(); err == nil {
		return fmt.Errorf("args: trailing data after value")
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := Value{Kind: KindMap}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("args: object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.Map = append(m.Map, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return m, nil
		case '[':
			l := Value{Kind: KindList}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				l.List = append(l.List, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return l, nil
		default:
			return Value{}, fmt.Errorf("args: unexpected delimiter %q", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		return Value{Kind: KindNumber, Num: t}, nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("args: unsupported token %T", tok)
	}
}

// MarshalJSON re-serializes the variant, keeping map field order and the
// original number text.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindNumber:
		if v.Num == "" {
			buf.WriteString("0")
			return nil
		}
		buf.WriteString(v.Num.String())
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindList:
		buf.WriteByte('[')
		for i, e := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, f := range v.Map {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeValue(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("args: unknown kind %d", v.Kind)
	}
	return nil
}
