package state

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/sandpolis/sandpolis/internal/codec"
)

// ErrUnknownValueKind is returned when decoding a value of a kind this
// build does not know.
var ErrUnknownValueKind = errors.New("state: unknown value kind")

// ErrInvalidString is returned when encoding a String that is not valid
// UTF-8. The decoder rejects such text, so it is refused on the way out.
var ErrInvalidString = errors.New("state: string is not valid UTF-8")

// ValueKind is the wire discriminant of a Value.
type ValueKind uint8

const (
	KindBool ValueKind = iota + 1
	KindInt
	KindDouble
	KindString
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// ParseValueKind maps a schema type name to a ValueKind.
func ParseValueKind(name string) (ValueKind, error) {
	for k := KindBool; k <= KindBytes; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownValueKind, name)
}

// Value is the closed set of types an attribute can hold. A nil Value
// means absent.
type Value interface {
	Kind() ValueKind
	Equal(other Value) bool
	// Native returns the plain Go value: bool, int64, float64, string
	// or []byte.
	Native() any
	String() string

	sealed()
}

type (
	Bool   bool
	Int    int64
	Double float64
	String string
	Bytes  []byte
)

func (Bool) Kind() ValueKind   { return KindBool }
func (Int) Kind() ValueKind    { return KindInt }
func (Double) Kind() ValueKind { return KindDouble }
func (String) Kind() ValueKind { return KindString }
func (Bytes) Kind() ValueKind  { return KindBytes }

func (v Bool) Native() any   { return bool(v) }
func (v Int) Native() any    { return int64(v) }
func (v Double) Native() any { return float64(v) }
func (v String) Native() any { return string(v) }
func (v Bytes) Native() any  { return []byte(v) }

func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Double) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v String) String() string { return string(v) }
func (v Bytes) String() string  { return base64.StdEncoding.EncodeToString(v) }

func (v Bool) Equal(other Value) bool {
	o, ok := other.(Bool)
	return ok && o == v
}

func (v Int) Equal(other Value) bool {
	o, ok := other.(Int)
	return ok && o == v
}

func (v Double) Equal(other Value) bool {
	o, ok := other.(Double)
	return ok && o == v
}

func (v String) Equal(other Value) bool {
	o, ok := other.(String)
	return ok && o == v
}

func (v Bytes) Equal(other Value) bool {
	o, ok := other.(Bytes)
	return ok && bytes.Equal(o, v)
}

func (Bool) sealed()   {}
func (Int) sealed()    {}
func (Double) sealed() {}
func (String) sealed() {}
func (Bytes) sealed()  {}

// Equal reports whether a and b are the same value. Two absent values
// are equal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// clone copies the backing array of Bytes so the caller cannot mutate
// stored state.
func clone(v Value) Value {
	if b, ok := v.(Bytes); ok {
		return Bytes(bytes.Clone(b))
	}
	return v
}

// As returns the attribute's value as T. ok is false when the attribute
// is absent or holds another kind.
func As[T Value](a *Attribute) (T, bool) {
	v, ok := a.Get().(T)
	return v, ok
}

func encodeValue(v Value) (codec.RawMessage, error) {
	if b, ok := v.(Bytes); ok && b == nil {
		// nil and empty byte strings share one encoding.
		return codec.Marshal([]byte{})
	}
	if s, ok := v.(String); ok && !utf8.ValidString(string(s)) {
		return nil, ErrInvalidString
	}
	return codec.Marshal(v.Native())
}

func decodeValue(kind ValueKind, payload codec.RawMessage) (Value, error) {
	switch kind {
	case KindBool:
		var b bool
		if err := codec.Unmarshal(payload, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case KindInt:
		var n int64
		if err := codec.Unmarshal(payload, &n); err != nil {
			return nil, err
		}
		return Int(n), nil
	case KindDouble:
		var f float64
		if err := codec.Unmarshal(payload, &f); err != nil {
			return nil, err
		}
		return Double(f), nil
	case KindString:
		var s string
		if err := codec.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case KindBytes:
		var b []byte
		if err := codec.Unmarshal(payload, &b); err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return Bytes(b), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownValueKind, uint8(kind))
	}
}
