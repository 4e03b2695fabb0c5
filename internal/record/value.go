package record

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Kind identifies the JSON type carried by a Scalar
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	// KindJSON holds an array or object that is not a structured field
	KindJSON
)

// Scalar is a bare JSON value. Text holds the string contents, the number
// literal as written, "true"/"false", or compact JSON for KindJSON.
type Scalar struct {
	Kind Kind
	Text string
}

// Null returns the null scalar
func Null() Scalar {
	return Scalar{Kind: KindNull}
}

// String returns a string scalar
func String(s string) Scalar {
	return Scalar{Kind: KindString, Text: s}
}

// Number returns a number scalar from its literal representation
func Number(literal string) Scalar {
	return Scalar{Kind: KindNumber, Text: literal}
}

// Bool returns a boolean scalar
func Bool(b bool) Scalar {
	return Scalar{Kind: KindBool, Text: strconv.FormatBool(b)}
}

// String returns the comparable representation of the scalar.
// Null renders as the literal "null".
func (s Scalar) String() string {
	if s.Kind == KindNull {
		return "null"
	}
	return s.Text
}

// MarshalJSON encodes the scalar as JSON
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindString:
		return json.Marshal(s.Text)
	case KindNumber, KindBool, KindJSON:
		if s.Text == "" {
			return []byte("null"), nil
		}
		return []byte(s.Text), nil
	default:
		return []byte("null"), nil
	}
}

// Shape tells whether a field is a bare scalar or a structured object
type Shape int

const (
	ShapeScalar Shape = iota
	ShapeStructured
)

// Structured is the {Value, Confidence, Reasoning, Citation} field shape
type Structured struct {
	Value      Scalar
	Confidence Scalar
	Reasoning  Scalar
	Citation   Scalar
}

// FieldValue is either a bare Scalar or a Structured object.
// The zero value is a bare null.
type FieldValue struct {
	Shape      Shape
	Scalar     Scalar
	Structured Structured

	// raw is the JSON text the value was parsed from, kept so artifacts
	// round-trip exactly what the model produced.
	raw string
}

// Bare wraps a scalar as a field value
func Bare(s Scalar) FieldValue {
	return FieldValue{Shape: ShapeScalar, Scalar: s}
}

// Wrapped returns a structured field value
func Wrapped(st Structured) FieldValue {
	return FieldValue{Shape: ShapeStructured, Structured: st}
}

// Comparable returns the string used for equality checks: the Value of a
// structured field or the scalar itself.
func (v FieldValue) Comparable() string {
	if v.Shape == ShapeStructured {
		return v.Structured.Value.String()
	}
	return v.Scalar.String()
}

// MarshalJSON encodes the field value
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.raw != "" {
		return []byte(v.raw), nil
	}
	if v.Shape == ShapeScalar {
		return v.Scalar.MarshalJSON()
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	members := []struct {
		name  string
		value Scalar
	}{
		{"Value", v.Structured.Value},
		{"Confidence", v.Structured.Confidence},
		{"Reasoning", v.Structured.Reasoning},
		{"Citation", v.Structured.Citation},
	}
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(m.name))
		buf.WriteByte(':')
		b, err := m.value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func scalarFrom(r gjson.Result) Scalar {
	switch r.Type {
	case gjson.String:
		return String(r.Str)
	case gjson.Number:
		return Number(r.Raw)
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.JSON:
		return Scalar{Kind: KindJSON, Text: string(pretty.Ugly([]byte(r.Raw)))}
	default:
		return Null()
	}
}

// fieldFrom classifies a parsed JSON value. Any object is treated as the
// structured shape; a missing Value member reads as null.
func fieldFrom(r gjson.Result) FieldValue {
	var v FieldValue
	if r.IsObject() {
		v = Wrapped(Structured{
			Value:      scalarFrom(r.Get("Value")),
			Confidence: scalarFrom(r.Get("Confidence")),
			Reasoning:  scalarFrom(r.Get("Reasoning")),
			Citation:   scalarFrom(r.Get("Citation")),
		})
	} else {
		v = Bare(scalarFrom(r))
	}
	v.raw = r.Raw
	return v
}
