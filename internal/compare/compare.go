package compare

import (
	"github.com/zombor/docextract/internal/record"
)

// Subject identifies what a comparison belongs to
type Subject struct {
	Test string
	File string
}

// Result is the outcome of comparing one key
type Result struct {
	Test     string `json:"test"`
	File     string `json:"file"`
	Key      string `json:"key"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Pass     bool   `json:"pass"`
}

// Compare checks actual against expected for every schema field, in schema
// order. Values are compared by their Comparable string, so a structured
// field matches a bare one holding the same value and null matches "null".
// A key absent from expected compares as null. If a key is absent from
// actual, the results gathered so far are returned together with a
// *record.MissingKeyError naming that key.
func Compare(subject Subject, expected, actual *record.Record, schema *record.Schema) ([]Result, error) {
	results := make([]Result, 0, len(schema.Fields))
	for _, key := range schema.Fields {
		got, ok := actual.Get(key)
		if !ok {
			return results, &record.MissingKeyError{Keys: []string{key}}
		}

		want := record.Null().String()
		if v, ok := expected.Get(key); ok {
			want = v.Comparable()
		}
		have := got.Comparable()

		results = append(results, Result{
			Test:     subject.Test,
			File:     subject.File,
			Key:      key,
			Expected: want,
			Actual:   have,
			Pass:     want == have,
		})
	}
	return results, nil
}

// Report is an immutable, ordered collection of results
type Report struct {
	results []Result
}

// Append returns a new report with results added after the existing ones
func (r Report) Append(results ...Result) Report {
	merged := make([]Result, 0, len(r.results)+len(results))
	merged = append(merged, r.results...)
	merged = append(merged, results...)
	return Report{results: merged}
}

// Results returns a copy of the results in insertion order
func (r Report) Results() []Result {
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Total returns the number of results
func (r Report) Total() int {
	return len(r.results)
}

// Passed returns the number of passing results
func (r Report) Passed() int {
	n := 0
	for _, res := range r.results {
		if res.Pass {
			n++
		}
	}
	return n
}

// Failed returns the number of failing results
func (r Report) Failed() int {
	return r.Total() - r.Passed()
}
