package extraction

import (
	"fmt"
	"time"

	"github.com/zombor/docextract/internal/record"
)

// Status is the outcome of processing one document
type Status string

const (
	StatusExtracted           Status = "extracted"
	StatusEmpty               Status = "empty"
	StatusRenderFailed        Status = "render_failed"
	StatusTransportFailed     Status = "transport_failed"
	StatusNormalizationFailed Status = "normalization_failed"
	StatusFailed              Status = "failed"
)

// DocumentOutcome describes what happened to one source document
type DocumentOutcome struct {
	Name        string         `json:"name"`
	Pages       int            `json:"pages"`
	Strips      int            `json:"strips"`
	Status      Status         `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	MissingKeys []string       `json:"missing_keys,omitempty"`
	Record      *record.Record `json:"record,omitempty"`
}

// RunKind distinguishes extraction runs from verification runs
type RunKind string

const (
	RunExtract RunKind = "extract"
	RunVerify  RunKind = "verify"
)

// Run is one batch invocation kept in the run history
type Run struct {
	ID         string            `json:"id"`
	Kind       RunKind           `json:"kind"`
	Schema     string            `json:"schema"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Documents  []DocumentOutcome `json:"documents,omitempty"`
	Total      int               `json:"total"`
	Passed     int               `json:"passed"`
}

// FixtureError reports an expected-output fixture that is missing or unreadable
type FixtureError struct {
	Name string
	Path string
	Err  error
}

func (e *FixtureError) Error() string {
	return fmt.Sprintf("expected fixture for %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *FixtureError) Unwrap() error {
	return e.Err
}
