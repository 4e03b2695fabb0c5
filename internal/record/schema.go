package record

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultIdentityField names the field that carries the source document name
const DefaultIdentityField = "FileName"

// engineeringInstruction is the system instruction for the built-in document type
const engineeringInstruction = `You are reviewing scanned engineering documents (drawings, diagrams, operating instructions, vendor data books). Read every page image carefully and extract document control metadata.

Rules:
- DocumentTitle is the title as printed in the title block or on the cover page.
- DateOfDocument is the issue or approval date, formatted YYYY-MM-DD.
- DocumentRevision is the latest revision shown in the revision block.
- DocumentType, DocumentType2 and DocumentType3 are the most, second most and third most likely document types.
- Discipline, Discipline2 and Discipline3 follow the same ranking for the engineering discipline.
- LegacyNumber is any superseded or legacy document number printed on the document.
- Equipment, SubEquipment and TagNumber identify the plant equipment the document covers.
- ProjectID_AFE is the project or AFE number.
- FacilityCode is the facility or site code.
- ThirdPartyName is the vendor or contractor that produced the document.
- If a value is not present, use null. Never guess.

Return ONLY a JSON object with exactly the requested keys. Do not add commentary.`

var engineeringFields = []string{
	"FileName",
	"DocumentTitle",
	"DateOfDocument",
	"DocumentRevision",
	"DocumentType",
	"DocumentType2",
	"DocumentType3",
	"Discipline",
	"Discipline2",
	"Discipline3",
	"LegacyNumber",
	"Equipment",
	"SubEquipment",
	"TagNumber",
	"ProjectID_AFE",
	"FacilityCode",
	"ThirdPartyName",
}

// Schema is the ordered set of fields a record must contain, together with
// the instruction that asks a model to produce them.
type Schema struct {
	Name          string
	IdentityField string
	Fields        []string
	// Structured makes defaults use the {Value, Confidence, Reasoning, Citation} shape
	Structured  bool
	Instruction string
}

// NewSchema validates the field list and returns a schema
func NewSchema(name, identityField string, fields []string) (*Schema, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema needs at least one field")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return nil, errors.New("schema field names must not be empty")
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("duplicate schema field %q", f)
		}
		seen[f] = struct{}{}
	}
	if identityField == "" {
		identityField = DefaultIdentityField
	}

	owned := make([]string, len(fields))
	copy(owned, fields)
	return &Schema{
		Name:          name,
		IdentityField: identityField,
		Fields:        owned,
	}, nil
}

// EngineeringDocument returns the built-in document type
func EngineeringDocument() *Schema {
	s, err := NewSchema("engineering-document", DefaultIdentityField, engineeringFields)
	if err != nil {
		panic(err)
	}
	s.Instruction = engineeringInstruction
	return s
}

// placeholder is the empty value used for every field of a default record
func (s *Schema) placeholder() FieldValue {
	if s.Structured {
		return Wrapped(Structured{
			Value:      Null(),
			Confidence: Number("0"),
			Reasoning:  String(""),
			Citation:   String(""),
		})
	}
	return Bare(Null())
}

// Default returns a record with every field set to its placeholder
func (s *Schema) Default() *Record {
	rec := New()
	for _, f := range s.Fields {
		rec.Set(f, s.placeholder())
	}
	return rec
}

// Missing lists schema fields absent from rec, in schema order
func (s *Schema) Missing(rec *Record) []string {
	var missing []string
	for _, f := range s.Fields {
		if rec == nil || !rec.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Order returns a copy of rec with the identity field first, then schema
// fields in schema order, then any extra keys in their original order.
// Absent schema fields are not added.
func (s *Schema) Order(rec *Record) *Record {
	out := New()
	move := func(key string) {
		if v, ok := rec.Get(key); ok {
			out.Set(key, v)
		}
	}
	move(s.IdentityField)
	for _, f := range s.Fields {
		move(f)
	}
	for _, k := range rec.Keys() {
		move(k)
	}
	return out
}
