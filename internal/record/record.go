package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrInvalidJSON is returned when record text is not valid JSON
var ErrInvalidJSON = errors.New("invalid JSON")

// Record maps field names to values and remembers insertion order
type Record struct {
	keys   []string
	values map[string]FieldValue
}

// New creates an empty record
func New() *Record {
	return &Record{values: make(map[string]FieldValue)}
}

// Parse reads a JSON object into a record, keeping key order
func Parse(data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, fmt.Errorf("record must be a JSON object, got %s", res.Type)
	}

	rec := New()
	res.ForEach(func(key, value gjson.Result) bool {
		rec.Set(key.String(), fieldFrom(value))
		return true
	})
	return rec, nil
}

// Set stores a value. An existing key keeps its position.
func (r *Record) Set(key string, v FieldValue) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value for key
func (r *Record) Get(key string) (FieldValue, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present
func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the keys in insertion order
func (r *Record) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// Len returns the number of keys
func (r *Record) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the record as an object in key order
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshaling key %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.values[key].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshaling value for %q: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the record contents with the parsed object
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// Indented returns the record as human-readable JSON
func (r *Record) Indented() ([]byte, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(data), nil
}
