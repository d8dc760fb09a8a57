package feature

import (
	"encoding/json"
	"strconv"
)

// Kind is the variant tag of an attribute Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "null"
	}
}

// Value is a scalar attribute cell: numeric, text or null.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	text string
}

func Null() Value { return Value{} }

func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

func Text(v string) Value { return Value{kind: KindText, text: v} }

// ValueOf converts a decoded JSON scalar into a Value. Booleans become text,
// anything else that is not a number or string becomes null.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Text(t.String())
		}
		return Number(f)
	case string:
		return Text(t)
	case bool:
		return Text(strconv.FormatBool(t))
	case Value:
		return t
	default:
		return Null()
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric payload and whether the value is numeric.
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// String renders the value for tabular output. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// Interface returns the value as a plain Go value (nil, float64 or string),
// which is what JSON encoders expect.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindText:
		return v.text == other.text
	default:
		return true
	}
}

// Attribute is one named cell of a feature's attribute row.
type Attribute struct {
	Name  string
	Value Value
}

// Attributes is an ordered, string-keyed association list. Order is the
// collection's field declaration order and is preserved through a join.
type Attributes []Attribute

// Get returns the value stored under name.
func (a Attributes) Get(name string) (Value, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return Null(), false
}

func (a Attributes) Names() []string {
	names := make([]string, len(a))
	for i, attr := range a {
		names[i] = attr.Name
	}
	return names
}

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// NullsFor builds the attribute row used when a source feature has no
// target match: every field of the target schema is present and null.
func NullsFor(fields []string) Attributes {
	out := make(Attributes, len(fields))
	for i, name := range fields {
		out[i] = Attribute{Name: name, Value: Null()}
	}
	return out
}

// MarshalJSON encodes the list as a JSON object, keeping field order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, attr := range a {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(attr.Name)
		if err != nil {
			return nil, err
		}
		val, err := attr.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}
