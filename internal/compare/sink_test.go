package compare

import (
	"bytes"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
)

var _ = ginkgo.Describe("WriteCSV", func() {
	var (
		buf     *bytes.Buffer
		results []Result
		err     error
	)

	ginkgo.BeforeEach(func() {
		buf = &bytes.Buffer{}
		results = nil
	})

	ginkgo.JustBeforeEach(func() {
		err = WriteCSV(buf, results)
	})

	ginkgo.When("there are no results", func() {
		ginkgo.It("should write only the header", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(Equal("Test Name,File,Key,Expected Value,Actual Value,Pass/Fail\n"))
		})
	})

	ginkgo.When("values need escaping", func() {
		ginkgo.BeforeEach(func() {
			results = []Result{
				{Test: "ValuesMatch", File: "a.pdf", Key: "DocumentTitle", Expected: `PUMP, "A"`, Actual: `PUMP, "A"`, Pass: true},
				{Test: "ValuesMatch", File: "a.pdf", Key: "DocumentRevision", Expected: "B", Actual: "null"},
			}
		})

		ginkgo.It("should quote the value columns that need it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(Equal(
				"Test Name,File,Key,Expected Value,Actual Value,Pass/Fail\n" +
					`ValuesMatch,a.pdf,DocumentTitle,"PUMP, ""A""","PUMP, ""A""",Pass` + "\n" +
					"ValuesMatch,a.pdf,DocumentRevision,B,null,Fail\n"))
		})
	})

	ginkgo.When("a file name contains a comma", func() {
		ginkgo.BeforeEach(func() {
			results = []Result{{Test: "ExtractionExists", File: "Pump, P-101.pdf", Key: "Pump, P-101.Extraction.json", Expected: "present", Actual: "present", Pass: true}}
		})

		ginkgo.It("should keep six columns", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(HaveSuffix(
				`ExtractionExists,"Pump, P-101.pdf","Pump, P-101.Extraction.json",present,present,Pass` + "\n"))
		})
	})

	ginkgo.When("a value spans lines", func() {
		ginkgo.BeforeEach(func() {
			results = []Result{{Test: "ValuesMatch", File: "a.pdf", Key: "DocumentTitle", Expected: "LINE 1\nLINE 2", Actual: "x"}}
		})

		ginkgo.It("should quote it", func() {
			Expect(buf.String()).To(ContainSubstring("\"LINE 1\nLINE 2\",x,Fail"))
		})
	})
})

var _ = ginkgo.Describe("escapeCSV", func() {
	ginkgo.It("should leave plain values alone", func() {
		Expect(escapeCSV("PLOT PLAN")).To(Equal("PLOT PLAN"))
		Expect(escapeCSV("")).To(Equal(""))
	})

	ginkgo.It("should quote commas and double quotes", func() {
		Expect(escapeCSV("a,b")).To(Equal(`"a,b"`))
		Expect(escapeCSV(`say "hi"`)).To(Equal(`"say ""hi"""`))
	})
})

var _ = ginkgo.Describe("WriteXLSX", func() {
	ginkgo.It("should write a workbook with the same rows", func() {
		results := []Result{
			{Test: "KeysExist", File: "a.pdf", Key: "FileName", Expected: "present", Actual: "present", Pass: true},
			{Test: "ValuesMatch", File: "a.pdf", Key: "DocumentTitle", Expected: "PLOT PLAN", Actual: "null"},
		}
		buf := &bytes.Buffer{}
		Expect(WriteXLSX(buf, results)).To(Succeed())

		f, err := excelize.OpenReader(buf)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		rows, err := f.GetRows(xlsxSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0][0]).To(Equal("Test Name"))
		Expect(rows[2]).To(Equal([]string{"ValuesMatch", "a.pdf", "DocumentTitle", "PLOT PLAN", "null", "Fail"}))
	})
})
