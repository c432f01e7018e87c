package result

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "trace"

// WriteXLSX writes the trace as a single-sheet spreadsheet using the CSV
// column order.
func WriteXLSX(w io.Writer, trace *Trace) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(csvHeader))
	for i, col := range csvHeader {
		header[i] = col
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	for i, r := range trace.Results() {
		row := []any{
			r.Timestamp.Format(time.RFC3339Nano),
			r.RequestNumber,
			r.Success,
			r.ResponseCode,
			r.ResponseTime.Seconds(),
			string(r.ErrorType),
			r.DataType,
			r.CaptchaDetected,
			r.RateLimited,
			r.Blocked,
			r.ResponseSize,
		}
		cell, cellErr := excelize.CoordinatesToCellName(1, i+2)
		if cellErr != nil {
			return fmt.Errorf("locate row %d: %w", r.RequestNumber, cellErr)
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("write xlsx record %d: %w", r.RequestNumber, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx output: %w", err)
	}
	return nil
}
