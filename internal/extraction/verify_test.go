package extraction

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/docextract/internal/compare"
)

var _ = Describe("Verifier", func() {
	var (
		db       *mockDB
		inputs   *mockStorage
		output   *mockStorage
		fixtures *mockStorage
		xlsx     bool
		run      *Run
		report   compare.Report
		err      error
	)

	BeforeEach(func() {
		db = newMockDB()
		inputs = newMockStorage()
		output = newMockStorage()
		fixtures = newMockStorage()
		xlsx = false

		inputs.files["P-101.pdf"] = []byte("%PDF")
		output.files["P-101.Extraction.json"] = []byte(`{"FileName": "P-101", "DocumentTitle": {"Value": "PLOT PLAN", "Confidence": 0.9}, "DocumentRevision": "B"}`)
		fixtures.files["P-101.Extraction.json"] = []byte(`{"FileName": "P-101", "DocumentTitle": "PLOT PLAN", "DocumentRevision": "B"}`)
	})

	JustBeforeEach(func() {
		verifier, newErr := NewVerifierWithDeps(VerifierConfig{
			DB:       db,
			Inputs:   inputs,
			Output:   output,
			Fixtures: fixtures,
			Schema:   testSchema(),
			XLSX:     xlsx,
		}, &mockIDGenerator{id: "verify-1"}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		Expect(newErr).NotTo(HaveOccurred())
		run, report, err = verifier.Verify()
	})

	rowsFor := func(test string) []compare.Result {
		var rows []compare.Result
		for _, r := range report.Results() {
			if r.Test == test {
				rows = append(rows, r)
			}
		}
		return rows
	}

	When("every check passes", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report one row per document and key", func() {
			Expect(rowsFor(TestExtractionExists)).To(HaveLen(1))
			Expect(rowsFor(TestKeysExist)).To(HaveLen(3))
			Expect(rowsFor(TestValuesMatch)).To(HaveLen(3))
			Expect(report.Passed()).To(Equal(report.Total()))
		})

		It("should write the CSV report into the fixtures", func() {
			csv := string(fixtures.files[ReportCSV])
			Expect(csv).To(HavePrefix("Test Name,File,Key,Expected Value,Actual Value,Pass/Fail\n"))
			Expect(csv).To(ContainSubstring("ValuesMatch,P-101.Extraction.json,DocumentTitle,PLOT PLAN,PLOT PLAN,Pass\n"))
			Expect(strings.Count(csv, "\n")).To(Equal(report.Total() + 1))
		})

		It("should not write a workbook", func() {
			Expect(fixtures.files).NotTo(HaveKey(ReportXLSX))
		})

		It("should record the run and its results", func() {
			Expect(run.Kind).To(Equal(RunVerify))
			Expect(run.Total).To(Equal(7))
			Expect(run.Passed).To(Equal(7))
			Expect(db.runs).To(HaveKey("verify-1"))
			Expect(db.results["verify-1"]).To(HaveLen(7))
		})
	})

	When("the report is run twice", func() {
		It("should overwrite the previous report", func() {
			first := string(fixtures.files[ReportCSV])
			verifier, newErr := NewVerifierWithDeps(VerifierConfig{
				Inputs: inputs, Output: output, Fixtures: fixtures, Schema: testSchema(),
			}, &mockIDGenerator{id: "verify-2"}, &mockTimeSource{})
			Expect(newErr).NotTo(HaveOccurred())
			_, _, verifyErr := verifier.Verify()
			Expect(verifyErr).NotTo(HaveOccurred())
			Expect(string(fixtures.files[ReportCSV])).To(Equal(first))
		})
	})

	When("an extraction is missing for an input", func() {
		BeforeEach(func() {
			inputs.files["P-102.pdf"] = []byte("%PDF")
		})

		It("should fail the existence check for that input", func() {
			rows := rowsFor(TestExtractionExists)
			Expect(rows).To(HaveLen(2))
			Expect(rows[1].File).To(Equal("P-102.pdf"))
			Expect(rows[1].Actual).To(Equal("missing"))
			Expect(rows[1].Pass).To(BeFalse())
		})
	})

	When("a value differs", func() {
		BeforeEach(func() {
			output.files["P-101.Extraction.json"] = []byte(`{"FileName": "P-101", "DocumentTitle": "PLOT PLAN, REV \"C\"", "DocumentRevision": "B"}`)
		})

		It("should fail only that key", func() {
			Expect(report.Failed()).To(Equal(1))
		})

		It("should escape the value in the CSV report", func() {
			Expect(string(fixtures.files[ReportCSV])).To(ContainSubstring(`DocumentTitle,PLOT PLAN,"PLOT PLAN, REV ""C""",Fail`))
		})
	})

	When("the extraction lacks a schema key", func() {
		BeforeEach(func() {
			output.files["P-101.Extraction.json"] = []byte(`{"FileName": "P-101", "DocumentRevision": "B"}`)
		})

		It("should fail that key in the key check", func() {
			rows := rowsFor(TestKeysExist)
			Expect(rows[1].Key).To(Equal("DocumentTitle"))
			Expect(rows[1].Actual).To(Equal("missing"))
			Expect(rows[1].Pass).To(BeFalse())
		})

		It("should report the rows so far and a structural failure", func() {
			rows := rowsFor(TestValuesMatch)
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].Key).To(Equal("FileName"))
			Expect(rows[1].Key).To(Equal("N/A"))
			Expect(rows[1].Actual).To(Equal("missing keys: DocumentTitle"))
		})
	})

	When("the fixture is missing", func() {
		BeforeEach(func() {
			delete(fixtures.files, "P-101.Extraction.json")
		})

		It("should report a single structural failure row", func() {
			Expect(err).NotTo(HaveOccurred())
			rows := rowsFor(TestValuesMatch)
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Key).To(Equal("N/A"))
			Expect(rows[0].Expected).To(Equal("N/A"))
			Expect(rows[0].Actual).To(ContainSubstring("expected fixture for P-101"))
		})
	})

	When("a fixture carries a byte order mark", func() {
		BeforeEach(func() {
			fixtures.files["P-101.Extraction.json"] = append([]byte("\xef\xbb\xbf"), fixtures.files["P-101.Extraction.json"]...)
		})

		It("should still compare", func() {
			Expect(rowsFor(TestValuesMatch)).To(HaveLen(3))
			Expect(report.Failed()).To(Equal(0))
		})
	})

	When("an extraction is not valid JSON", func() {
		BeforeEach(func() {
			output.files["P-101.Extraction.json"] = []byte(`not json`)
		})

		It("should fail both record checks without aborting", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rowsFor(TestKeysExist)).To(HaveLen(1))
			Expect(rowsFor(TestValuesMatch)).To(HaveLen(1))
		})
	})

	When("a workbook is requested", func() {
		BeforeEach(func() {
			xlsx = true
		})

		It("should write it next to the CSV report", func() {
			Expect(fixtures.files).To(HaveKey(ReportXLSX))
			f, openErr := excelize.OpenReader(bytes.NewReader(fixtures.files[ReportXLSX]))
			Expect(openErr).NotTo(HaveOccurred())
			defer f.Close()
			rows, rowsErr := f.GetRows("TestResults")
			Expect(rowsErr).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(8))
		})
	})

	When("the report cannot be saved", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("read-only")
			fixtures.saveErr = setupErr
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(setupErr))
		})
	})
})
