package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MissingKeyError reports schema fields absent from a record
type MissingKeyError struct {
	Keys  []string
	cause error
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing keys: %s", strings.Join(e.Keys, ", "))
}

func (e *MissingKeyError) Unwrap() error {
	return e.cause
}

// Validate substitutes the schema default when rec is absent. A present
// record is returned unchanged; key presence is checked separately so that
// extraction gaps are not masked.
func Validate(rec *Record, schema *Schema) *Record {
	if rec == nil {
		return schema.Default()
	}
	return rec
}

// KeyChecker asserts that records contain every schema field
type KeyChecker struct {
	schema   *Schema
	compiled *jsonschema.Schema
}

// NewKeyChecker compiles a JSON Schema requiring every field of s. Each
// field gets its own allOf branch so a failure names the field by index.
func NewKeyChecker(s *Schema) (*KeyChecker, error) {
	branches := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		branches[i] = map[string]any{"required": []string{f}}
	}
	doc := map[string]any{
		"type":  "object",
		"allOf": branches,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &KeyChecker{schema: s, compiled: compiled}, nil
}

// Check returns a *MissingKeyError when rec lacks any schema field
func (c *KeyChecker) Check(rec *Record) error {
	if rec == nil {
		return &MissingKeyError{Keys: c.schema.Missing(nil)}
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	err = c.compiled.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validate record: %w", err)
	}
	keys := c.missingFrom(verr)
	if len(keys) == 0 {
		return fmt.Errorf("validate record: %w", err)
	}
	return &MissingKeyError{Keys: keys, cause: err}
}

// missingFrom collects the fields whose required branch failed, in schema order
func (c *KeyChecker) missingFrom(verr *jsonschema.ValidationError) []string {
	failed := make([]bool, len(c.schema.Fields))
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if i, ok := requiredBranch(e.KeywordLocation); ok && i < len(failed) {
			failed[i] = true
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)

	var keys []string
	for i, f := range c.schema.Fields {
		if failed[i] {
			keys = append(keys, f)
		}
	}
	return keys
}

// requiredBranch parses a keyword location of the form /allOf/<i>/required
func requiredBranch(location string) (int, bool) {
	rest, ok := strings.CutSuffix(location, "/required")
	if !ok {
		return 0, false
	}
	idx, ok := strings.CutPrefix(rest, "/allOf/")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
