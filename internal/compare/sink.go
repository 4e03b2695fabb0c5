package compare

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const csvHeader = "Test Name,File,Key,Expected Value,Actual Value,Pass/Fail"

// xlsxSheet is the worksheet name used for spreadsheet reports
const xlsxSheet = "TestResults"

// WriteCSV writes the report header followed by one line per result.
// Every field is escaped; plain values are written unquoted.
func WriteCSV(w io.Writer, results []Result) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range results {
		line := strings.Join([]string{
			escapeCSV(r.Test),
			escapeCSV(r.File),
			escapeCSV(r.Key),
			escapeCSV(r.Expected),
			escapeCSV(r.Actual),
			passFail(r.Pass),
		}, ",")
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return fmt.Errorf("writing result for %s: %w", r.Key, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing report: %w", err)
	}
	return nil
}

// WriteXLSX writes the report as a workbook with the same columns
func WriteXLSX(w io.Writer, results []Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	header := []any{"Test Name", "File", "Key", "Expected Value", "Actual Value", "Pass/Fail"}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.Test, r.File, r.Key, r.Expected, r.Actual, passFail(r.Pass)}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// escapeCSV quotes a value containing a comma, quote or line break and
// doubles embedded quotes.
func escapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func passFail(pass bool) string {
	if pass {
		return "Pass"
	}
	return "Fail"
}
