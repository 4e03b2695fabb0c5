package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/docextract/internal/compare"
	"github.com/zombor/docextract/internal/record"
)

// Names of the verification checks as they appear in reports
const (
	TestExtractionExists = "ExtractionExists"
	TestKeysExist        = "KeysExist"
	TestValuesMatch      = "ValuesMatch"
)

// Report file names written into the fixtures storage
const (
	ReportCSV  = "TestResults.csv"
	ReportXLSX = "TestResults.xlsx"
)

const (
	present      = "present"
	absent       = "missing"
	notAvailable = "N/A"
)

// VerifierConfig holds the collaborators of a Verifier
type VerifierConfig struct {
	DB DB
	// Inputs holds the source documents
	Inputs Storage
	// Output holds the Extraction artifacts under test
	Output Storage
	// Fixtures holds expected Extraction artifacts and receives the report
	Fixtures Storage
	Schema   *record.Schema
	// XLSX also writes the report as a workbook
	XLSX bool
}

// Verifier checks extraction artifacts against the schema and fixtures
type Verifier struct {
	db          DB
	inputs      Storage
	output      Storage
	fixtures    Storage
	schema      *record.Schema
	checker     *record.KeyChecker
	xlsx        bool
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewVerifier creates a new Verifier with default ID generator and time source
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	return NewVerifierWithDeps(cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewVerifierWithDeps creates a new Verifier with custom dependencies for testing
func NewVerifierWithDeps(cfg VerifierConfig, idGen IDGenerator, timeSrc TimeSource) (*Verifier, error) {
	if cfg.Schema == nil {
		cfg.Schema = record.EngineeringDocument()
	}
	checker, err := record.NewKeyChecker(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("building key checker: %w", err)
	}
	return &Verifier{
		db:          cfg.DB,
		inputs:      cfg.Inputs,
		output:      cfg.Output,
		fixtures:    cfg.Fixtures,
		schema:      cfg.Schema,
		checker:     checker,
		xlsx:        cfg.XLSX,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

// Verify runs every check, writes the report into the fixtures storage,
// replacing any previous one, and records the run. Per-document structural
// failures become failed rows; only listing and report writing errors are
// returned.
func (v *Verifier) Verify() (*Run, compare.Report, error) {
	run := &Run{
		ID:        v.idGenerator.Generate(),
		Kind:      RunVerify,
		Schema:    v.schema.Name,
		StartedAt: v.timeSource.Now(),
	}
	slog.Info("Starting verification run", "run_id", run.ID)

	report := compare.Report{}
	var err error
	if report, err = v.extractionsExist(report); err != nil {
		return nil, compare.Report{}, err
	}

	extractions, err := v.output.List(ExtractionSuffix)
	if err != nil {
		return nil, compare.Report{}, fmt.Errorf("listing extractions: %w", err)
	}
	for _, file := range extractions {
		report = v.keysExist(report, file)
	}
	for _, file := range extractions {
		report = v.valuesMatch(report, file)
	}

	if err := v.writeReport(report); err != nil {
		return nil, compare.Report{}, err
	}

	run.FinishedAt = v.timeSource.Now()
	run.Total = report.Total()
	run.Passed = report.Passed()
	if v.db != nil {
		if err := v.db.SaveRun(run); err != nil {
			return nil, compare.Report{}, fmt.Errorf("saving run: %w", err)
		}
		if err := v.db.SaveResults(run.ID, report.Results()); err != nil {
			return nil, compare.Report{}, fmt.Errorf("saving results: %w", err)
		}
	}
	slog.Info("Finished verification run", "run_id", run.ID, "passed", run.Passed, "total", run.Total)
	return run, report, nil
}

// extractionsExist adds one row per source PDF stating whether its
// Extraction artifact was written.
func (v *Verifier) extractionsExist(report compare.Report) (compare.Report, error) {
	files, err := v.inputs.List(".pdf")
	if err != nil {
		return report, fmt.Errorf("listing input documents: %w", err)
	}
	for _, file := range files {
		artifact := DocumentName(file) + ExtractionSuffix
		actual := present
		if _, err := v.output.Get(artifact); err != nil {
			actual = absent
		}
		report = report.Append(compare.Result{
			Test:     TestExtractionExists,
			File:     file,
			Key:      artifact,
			Expected: present,
			Actual:   actual,
			Pass:     actual == present,
		})
	}
	return report, nil
}

// keysExist adds one row per schema key for an Extraction artifact
func (v *Verifier) keysExist(report compare.Report, file string) compare.Report {
	rec, err := v.load(v.output, file)
	if err != nil {
		return report.Append(structuralFailure(TestKeysExist, file, err))
	}

	missing := map[string]bool{}
	var missingErr *record.MissingKeyError
	if err := v.checker.Check(rec); errors.As(err, &missingErr) {
		for _, k := range missingErr.Keys {
			missing[k] = true
		}
	} else if err != nil {
		return report.Append(structuralFailure(TestKeysExist, file, err))
	}

	for _, key := range v.schema.Fields {
		actual := present
		if missing[key] {
			actual = absent
		}
		report = report.Append(compare.Result{
			Test:     TestKeysExist,
			File:     file,
			Key:      key,
			Expected: present,
			Actual:   actual,
			Pass:     !missing[key],
		})
	}
	return report
}

// valuesMatch compares an Extraction artifact against its fixture
func (v *Verifier) valuesMatch(report compare.Report, file string) compare.Report {
	actual, err := v.load(v.output, file)
	if err != nil {
		return report.Append(structuralFailure(TestValuesMatch, file, err))
	}

	name := strings.TrimSuffix(file, ExtractionSuffix)
	expected, err := v.load(v.fixtures, file)
	if err != nil {
		fixtureErr := &FixtureError{Name: name, Path: file, Err: err}
		slog.Warn("Expected fixture unavailable", "name", name, "error", err)
		return report.Append(structuralFailure(TestValuesMatch, file, fixtureErr))
	}

	results, err := compare.Compare(compare.Subject{Test: TestValuesMatch, File: file}, expected, actual, v.schema)
	report = report.Append(results...)
	if err != nil {
		report = report.Append(structuralFailure(TestValuesMatch, file, err))
	}
	return report
}

func (v *Verifier) load(storage Storage, file string) (*record.Record, error) {
	data, err := storage.Get(file)
	if err != nil {
		return nil, err
	}
	text, err := record.DecodeText(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	rec, err := record.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}
	return rec, nil
}

func (v *Verifier) writeReport(report compare.Report) error {
	var buf bytes.Buffer
	if err := compare.WriteCSV(&buf, report.Results()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if _, err := v.fixtures.Save(ReportCSV, buf.Bytes()); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	if !v.xlsx {
		return nil
	}
	buf.Reset()
	if err := compare.WriteXLSX(&buf, report.Results()); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	if _, err := v.fixtures.Save(ReportXLSX, buf.Bytes()); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// structuralFailure is the single failed row reported for a document whose
// check could not run.
func structuralFailure(test, file string, err error) compare.Result {
	return compare.Result{
		Test:     test,
		File:     file,
		Key:      notAvailable,
		Expected: notAvailable,
		Actual:   err.Error(),
		Pass:     false,
	}
}
